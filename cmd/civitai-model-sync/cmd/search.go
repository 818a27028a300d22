package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"civitai-model-sync/index"
	"civitai-model-sync/internal/inventory"
)

// searchQuery holds the value of the --query flag
var searchQuery string

// searchNoReindex skips the inventory walk before querying
var searchNoReindex bool

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Search query (uses Bleve query string syntax)")
	searchCmd.Flags().BoolVar(&searchNoReindex, "no-reindex", false, "Query the existing index without re-scanning the library")
	_ = searchCmd.MarkFlagRequired("query")
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search installed models by their metadata",
	Long: `Indexes the metadata sidecars of every installed model and runs a
full-text search over them.

Supports Bleve's query string syntax. Searchable fields (lowercase JSON tag
names): name, type, description, tags, trainedWords, baseModel, versionName,
path.

Examples:
  civitai-model-sync search -q "style"
  civitai-model-sync search -q "+type:LORA +tags:anime"`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return fmt.Errorf("opening full-text index: %w", err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.WithError(err).Warn("Error closing full-text index")
		}
	}()

	if !searchNoReindex {
		// No scan exclusions here: search should cover the whole library.
		candidates := inventory.ListCandidateFiles(folderMap(), nil)
		indexed := 0
		for _, candidate := range candidates {
			ok, err := index.IndexModelFile(idx, candidate.Folder, candidate.Filename)
			if err != nil {
				log.WithError(err).Warnf("Could not index %s", candidate.Filename)
				continue
			}
			if ok {
				indexed++
			}
		}
		log.Infof("Indexed %d of %d model files", indexed, len(candidates))
	}

	results, err := index.Search(idx, searchQuery)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	log.Infof("Search finished. Hits: %d, Total: %d, Took: %s",
		len(results.Hits), results.Total, results.Took)

	if results.Total == 0 {
		fmt.Println("No results found matching your query.")
		return nil
	}

	fmt.Println("--- Search Results ---")
	for i, hit := range results.Hits {
		fmt.Printf("[%d] %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
		for field, value := range hit.Fields {
			if field == "path" {
				continue // already shown as the document id
			}
			fmt.Printf("  %s: %v\n", field, value)
		}
		fmt.Println("---")
	}
	return nil
}
