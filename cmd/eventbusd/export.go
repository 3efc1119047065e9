package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/eventbus/pkg/eventbus/archive"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		out        string
		s3Bucket   string
		s3Key      string
		s3Region   string
		s3Endpoint string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the log store as JSONL to stdout, a file or S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := openWriter(ctx, a.settings.Store, a.logger, false)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer w.Close()
			src := archive.WriterSource(w)

			arch := a.settings.Archive
			if cmd.Flags().Changed("s3-bucket") {
				arch.S3Bucket = s3Bucket
			}
			if cmd.Flags().Changed("s3-key") {
				arch.S3Key = s3Key
			}
			if cmd.Flags().Changed("s3-region") {
				arch.S3Region = s3Region
			}
			if cmd.Flags().Changed("s3-endpoint") {
				arch.S3Endpoint = s3Endpoint
			}

			var dests []archive.Destination
			if out != "" {
				dests = append(dests, archive.FileDestination{Path: out})
			}
			if arch.S3Bucket != "" {
				d, err := archive.NewS3Destination(ctx, arch.S3Bucket, arch.S3Key, arch.S3Region, arch.S3Endpoint)
				if err != nil {
					return err
				}
				dests = append(dests, d)
			}
			if len(dests) == 0 {
				return archive.ExportJSONL(ctx, src, cmd.OutOrStdout())
			}

			n, err := archive.Export(ctx, src, dests...)
			if err != nil {
				return err
			}
			a.logger.Info("export completed", "destinations", len(dests), "bytes", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	cmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "upload to this S3 bucket (default: archive.s3.bucket)")
	cmd.Flags().StringVar(&s3Key, "s3-key", "", "object key (default: archive.s3.key)")
	cmd.Flags().StringVar(&s3Region, "s3-region", "", "AWS region (default: archive.s3.region)")
	cmd.Flags().StringVar(&s3Endpoint, "s3-endpoint", "", "custom endpoint, enables path-style addressing")
	return cmd
}
