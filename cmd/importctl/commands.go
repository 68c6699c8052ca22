package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/resolver/internal/core"
)

func newDetectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "detect FILE",
		Short: "Show delimiter, header, row count and column types of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			info, err := app.Service.DetectFile(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newSuggestCmd(c *cli) *cobra.Command {
	var entity string

	cmd := &cobra.Command{
		Use:   "suggest FILE",
		Short: "Print a suggested mapping file for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			kind := core.EntityKind(entity)
			columns, suggestions, err := app.Service.Suggest(kind, args[0])
			if err != nil {
				return err
			}
			for _, s := range suggestions {
				slog.Info("suggested column", "field", s.Field, "column", s.Column, "score", s.Score, "reason", s.Reason)
			}
			return writeMapping(cmd.OutOrStdout(), &mappingFile{Entity: kind, Columns: columns})
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "", "Entity kind (required)")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func newAnalyzeCmd(c *cli) *cobra.Command {
	var mappingPath string

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Report value statistics and issues for each mapped column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readMapping(mappingPath)
			if err != nil {
				return err
			}
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Service.Analyze(cmd.Context(), core.AnalyzeRequest{
				Entity:   m.Entity,
				FilePath: args[0],
				Columns:  m.Columns,
				Options:  m.Options.importOptions(),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&mappingPath, "mapping", "", "Mapping file (required)")
	_ = cmd.MarkFlagRequired("mapping")
	return cmd
}

func newPreviewCmd(c *cli) *cobra.Command {
	var (
		mappingPath string
		tenantID    string
		sampleSize  int
	)

	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Show what an import would create, update and skip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readMapping(mappingPath)
			if err != nil {
				return err
			}
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if !cmd.Flags().Changed("sample") {
				sampleSize = c.cfg.Import.SampleSize
			}
			result, err := app.Service.Preview(cmd.Context(), core.PreviewRequest{
				Entity:     m.Entity,
				FilePath:   args[0],
				Columns:    m.Columns,
				Options:    m.Options.importOptions(),
				TenantID:   tenantID,
				SampleSize: sampleSize,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&mappingPath, "mapping", "", "Mapping file (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id (required)")
	cmd.Flags().IntVar(&sampleSize, "sample", 0, "Rows to process; 0 processes every row (default from IMPORT_SAMPLE_SIZE)")
	_ = cmd.MarkFlagRequired("mapping")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

type importOutput struct {
	ImportID   string              `json:"importId"`
	Staged     int                 `json:"staged"`
	Chunks     int                 `json:"chunks"`
	DurationMS int64               `json:"durationMs"`
	Summary    core.ResolveSummary `json:"summary"`
}

func newImportCmd(c *cli) *cobra.Command {
	var (
		mappingPath string
		tenantID    string
		chunkSize   int
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Stage every row of a file in chunks, then resolve matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chunkSize < 1 {
				return fmt.Errorf("--chunk must be positive")
			}
			m, err := readMapping(mappingPath)
			if err != nil {
				return err
			}
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			up, err := app.Service.SaveUpload(tenantID, filepath.Base(args[0]), f, 0)
			f.Close()
			if err != nil {
				return err
			}

			start := time.Now()
			out := importOutput{ImportID: up.ID}
			for startRow := 1; ; startRow += chunkSize {
				res, err := app.Service.Stage(cmd.Context(), core.StageRequest{
					ImportID:    up.ID,
					TenantID:    tenantID,
					FilePath:    up.Path,
					StartRow:    startRow,
					RowCount:    chunkSize,
					Corrections: m.Options.Corrections,
				})
				if err != nil {
					return fmt.Errorf("stage rows from %d: %w", startRow, err)
				}
				out.Staged += res.Staged
				out.Chunks++
				if res.Done {
					break
				}
			}

			out.Summary, err = app.Service.Resolve(cmd.Context(), resolveRequest(up.ID, tenantID, m))
			if err != nil {
				return err
			}
			out.DurationMS = time.Since(start).Milliseconds()
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&mappingPath, "mapping", "", "Mapping file (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id (required)")
	cmd.Flags().IntVar(&chunkSize, "chunk", 1000, "Rows staged per chunk")
	_ = cmd.MarkFlagRequired("mapping")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newResolveCmd(c *cli) *cobra.Command {
	var (
		mappingPath string
		tenantID    string
		importID    string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Re-run match resolution over an already staged import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readMapping(mappingPath)
			if err != nil {
				return err
			}
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := app.Service.Resolve(cmd.Context(), resolveRequest(importID, tenantID, m))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().StringVar(&mappingPath, "mapping", "", "Mapping file (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&importID, "import", "", "Import id (required)")
	_ = cmd.MarkFlagRequired("mapping")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("import")
	return cmd
}

func resolveRequest(importID, tenantID string, m *mappingFile) core.ResolveRequest {
	return core.ResolveRequest{
		ImportID:   importID,
		TenantID:   tenantID,
		Entity:     m.Entity,
		Columns:    m.Columns,
		MatchField: m.Options.MatchField,
		Strategy:   m.Options.DuplicateStrategy,
	}
}

func newRowsCmd(c *cli) *cobra.Command {
	var (
		tenantID string
		importID string
		offset   int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "rows",
		Short: "List staged rows with their match decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			rows, err := app.Service.Rows(cmd.Context(), tenantID, importID, offset, limit)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []core.StagedRow{}
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&importID, "import", "", "Import id (required)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().IntVar(&limit, "limit", 100, "Rows to list; 0 lists all")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("import")
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	var tenantID, importID string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the staged rows and uploaded file of an import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Service.DeleteImport(cmd.Context(), tenantID, importID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted import %s\n", importID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&importID, "import", "", "Import id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("import")
	return cmd
}

func newSeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Load existing records from a YAML file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeed(args[0])
			if err != nil {
				return err
			}
			app, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			for _, r := range seed.Records {
				rec := core.Record{
					ID:         r.ID,
					TenantID:   seed.Tenant,
					Name:       r.Name,
					Emails:     r.Emails,
					Domains:    r.Domains,
					Attributes: r.Attributes,
				}
				if err := app.PutRecord(cmd.Context(), seed.Entity, rec); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d %s records for tenant %s\n", len(seed.Records), seed.Entity, seed.Tenant)
			return nil
		},
	}
}
