package authoring

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Kind identifies one sync-able artifact type.
type Kind string

// The artifact kinds the authoring service exposes, in no particular
// order. PullOrder and PushOrder define the inter-kind sequencing.
const (
	KindAsset             Kind = "asset"
	KindContent           Kind = "content"
	KindContentType       Kind = "content-type"
	KindCategory          Kind = "category"
	KindImageProfile      Kind = "image-profile"
	KindLayout            Kind = "layout"
	KindLayoutMapping     Kind = "layout-mapping"
	KindPublishingSource  Kind = "publishing-source"
	KindPublishingSite    Kind = "publishing-site"
	KindRendition         Kind = "rendition"
	KindPublishingProfile Kind = "publishing-profile"
	KindSiteRevision      Kind = "site-revision"
	KindPublishingJob     Kind = "publishing-job"
)

// kindDescriptor captures the per-kind wire and disk details the
// generic adapter is parameterized on.
type kindDescriptor struct {
	// uriPath is the collection segment under /authoring/v1/.
	uriPath string
	// folder is the directory name under the working root.
	folder string
	// hasRev is true for kinds with optimistic-concurrency revisions;
	// those update via PUT, rev-less kinds update via POST.
	hasRev bool
	// binary is true only for the asset kind.
	binary bool
	// wrapped is true when list responses arrive as {"items": [...]}
	// rather than a bare array.
	wrapped bool
}

var kindDescriptors = map[Kind]kindDescriptor{
	KindAsset:             {uriPath: "assets", folder: "assets", hasRev: true, binary: true, wrapped: true},
	KindContent:           {uriPath: "content", folder: "content", hasRev: true, wrapped: true},
	KindContentType:       {uriPath: "types", folder: "types", hasRev: true, wrapped: true},
	KindCategory:          {uriPath: "categories", folder: "categories", hasRev: true, wrapped: true},
	KindImageProfile:      {uriPath: "image-profiles", folder: "image-profiles", hasRev: true, wrapped: true},
	KindLayout:            {uriPath: "layouts", folder: "layouts", hasRev: true, wrapped: true},
	KindLayoutMapping:     {uriPath: "layout-mappings", folder: "layout-mappings", hasRev: true, wrapped: true},
	KindPublishingSource:  {uriPath: "publishing/sources", folder: "sources", hasRev: false, wrapped: true},
	KindPublishingSite:    {uriPath: "sites", folder: "sites", hasRev: true, wrapped: true},
	KindRendition:         {uriPath: "renditions", folder: "renditions", hasRev: false, wrapped: true},
	KindPublishingProfile: {uriPath: "publishing/profiles", folder: "profiles", hasRev: true, wrapped: true},
	KindSiteRevision:      {uriPath: "publishing/site-revisions", folder: "site-revisions", hasRev: true, wrapped: true},
	KindPublishingJob:     {uriPath: "publishing/jobs", folder: "publishing-jobs", hasRev: false, wrapped: true},
}

// Valid reports whether k names a known artifact kind.
func (k Kind) Valid() bool {
	_, ok := kindDescriptors[k]
	return ok
}

// URIPath returns the collection path segment under /authoring/v1/.
func (k Kind) URIPath() string {
	return kindDescriptors[k].uriPath
}

// Folder returns the on-disk directory name for the kind.
func (k Kind) Folder() string {
	return kindDescriptors[k].folder
}

// HasRev reports whether the kind carries a revision token and so
// updates via PUT rather than POST.
func (k Kind) HasRev() bool {
	return kindDescriptors[k].hasRev
}

// Binary reports whether the kind carries a content-addressed blob.
func (k Kind) Binary() bool {
	return kindDescriptors[k].binary
}

// ParseKind converts a CLI or config string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("authoring: unknown artifact kind %q", s)
	}

	return k, nil
}

// PullOrder is the fixed inter-kind sequencing for pull, chosen so
// referenced artifacts land before their referrers.
var PullOrder = []Kind{
	KindPublishingSource,
	KindCategory,
	KindAsset,
	KindImageProfile,
	KindContentType,
	KindContent,
	KindLayout,
	KindLayoutMapping,
	KindRendition,
	KindPublishingProfile,
	KindSiteRevision,
	KindPublishingSite,
}

// PushOrder is the reverse-dependency sequencing for push.
var PushOrder = func() []Kind {
	order := make([]Kind, len(PullOrder))
	for i, k := range PullOrder {
		order[len(PullOrder)-1-i] = k
	}

	return order
}()

// Artifact is the unit of sync: one authoring entity on either side.
// Body holds the raw JSON document as received, so fields the client
// does not model round-trip unchanged.
type Artifact struct {
	Kind         Kind
	ID           string
	Rev          string
	Name         string
	Path         string
	ResourceID   string
	MD5          string
	LastModified time.Time
	Body         json.RawMessage
}

// artifactEnvelope mirrors the service's artifact JSON shape. Only the
// identity and sync-relevant fields are modeled; the full document is
// preserved in Artifact.Body.
type artifactEnvelope struct {
	ID           string `json:"id"`
	Rev          string `json:"rev"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	ResourceID   string `json:"resource"`
	Digest       string `json:"digest"`
	LastModified string `json:"lastModified"`
}

// listResponse covers both list shapes the service returns:
// {"items": [...]} and a bare array (the adapter retries decode).
type listResponse struct {
	Items []json.RawMessage `json:"items"`
}

// decodeArtifact parses a raw artifact document into an Artifact for
// the given kind. Unparseable timestamps are replaced with the current
// time and logged, never fatal.
func decodeArtifact(kind Kind, raw json.RawMessage, logger *slog.Logger) (Artifact, error) {
	var env artifactEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Artifact{}, fmt.Errorf("authoring: decoding %s artifact: %w", kind, err)
	}

	a := Artifact{
		Kind:       kind,
		ID:         env.ID,
		Rev:        env.Rev,
		Name:       env.Name,
		Path:       env.Path,
		ResourceID: env.ResourceID,
		MD5:        env.Digest,
		Body:       raw,
	}

	if env.LastModified != "" {
		t, err := time.Parse(time.RFC3339, env.LastModified)
		if err != nil {
			logger.Warn("invalid lastModified, using current time",
				slog.String("kind", string(kind)),
				slog.String("id", env.ID),
				slog.String("raw", env.LastModified),
			)

			t = time.Now().UTC()
		}

		a.LastModified = t
	}

	return a, nil
}
