package main

import (
	"github.com/spf13/cobra"

	"github.com/dxtools/dxsync/internal/authoring"
)

// kindFlags is the artifact kind selection shared by the transfer
// commands.
type kindFlags struct {
	assets       bool
	categories   bool
	content      bool
	types        bool
	layouts      bool
	sources      bool
	renditions   bool
	allAuthoring bool
}

// register binds the kind selection flags on cmd.
func (k *kindFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&k.assets, "assets", "a", false, "select assets")
	cmd.Flags().BoolVarP(&k.categories, "categories", "C", false, "select categories")
	cmd.Flags().BoolVarP(&k.content, "content", "c", false, "select content items")
	cmd.Flags().BoolVarP(&k.types, "types", "t", false, "select content types")
	cmd.Flags().BoolVarP(&k.layouts, "layouts", "p", false, "select layouts and layout mappings")
	cmd.Flags().BoolVarP(&k.sources, "publishing-sources", "s", false, "select publishing sources")
	cmd.Flags().BoolVarP(&k.renditions, "renditions", "r", false, "select renditions")
	cmd.Flags().BoolVar(&k.allAuthoring, "all-authoring", false, "select every authoring artifact kind")
}

// selected resolves the flag set to artifact kinds. Empty selection
// (no flags) selects nothing; callers decide whether that is an error.
func (k *kindFlags) selected() []authoring.Kind {
	if k.allAuthoring {
		return nil // empty selection means all kinds to the coordinator
	}

	var kinds []authoring.Kind

	if k.assets {
		kinds = append(kinds, authoring.KindAsset)
	}

	if k.categories {
		kinds = append(kinds, authoring.KindCategory)
	}

	if k.content {
		kinds = append(kinds, authoring.KindContent)
	}

	if k.types {
		kinds = append(kinds, authoring.KindContentType)
	}

	if k.layouts {
		kinds = append(kinds, authoring.KindLayout, authoring.KindLayoutMapping)
	}

	if k.sources {
		kinds = append(kinds, authoring.KindPublishingSource)
	}

	if k.renditions {
		kinds = append(kinds, authoring.KindRendition)
	}

	return kinds
}

// any reports whether the selection names at least one kind.
func (k *kindFlags) any() bool {
	return k.allAuthoring || k.assets || k.categories || k.content ||
		k.types || k.layouts || k.sources || k.renditions
}
