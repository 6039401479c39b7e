package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/wine-identify/internal/identify"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/stream"
)

var (
	identifyImage     string
	identifyMIME      string
	identifyEnrich    bool
	identifySkipCache bool
	identifyStream    bool
)

var identifyCmd = &cobra.Command{
	Use:   "identify [text]",
	Short: "Identify a single wine from text or a label photo",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		text := strings.Join(args, " ")

		req, err := buildRequest(text, identifyImage, identifyMIME)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "identify")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := identify.Options{Enrich: identifyEnrich, SkipCache: identifySkipCache}
		out := cmd.OutOrStdout()

		if identifyStream {
			timeout := time.Duration(cfg.Streaming.TimeoutSecs) * time.Second
			return env.Service.Stream(ctx, stream.NewJSONLines(out), req, opts, timeout)
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		resp, err := env.Service.Identify(ctx, req, opts)
		if err != nil {
			_ = enc.Encode(identify.ErrorResponse(req, err))
			return err
		}
		return enc.Encode(resp)
	},
}

// buildRequest makes an image request when imagePath is set, with text as
// the caption, and a text request otherwise.
func buildRequest(text, imagePath, mime string) (model.IdentificationRequest, error) {
	if imagePath == "" {
		if strings.TrimSpace(text) == "" {
			return model.IdentificationRequest{}, eris.New("identify: text or --image is required")
		}
		return model.NewTextRequest(text), nil
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return model.IdentificationRequest{}, eris.Wrapf(err, "identify: read image %s", imagePath)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return model.NewImageRequest(data, mime, text), nil
}

func init() {
	identifyCmd.Flags().StringVar(&identifyImage, "image", "", "path to a label photo")
	identifyCmd.Flags().StringVar(&identifyMIME, "mime", "", "image MIME type (detected when empty)")
	identifyCmd.Flags().BoolVar(&identifyEnrich, "enrich", false, "enrich a confident result")
	identifyCmd.Flags().BoolVar(&identifySkipCache, "skip-cache", false, "bypass the identification cache")
	identifyCmd.Flags().BoolVar(&identifyStream, "stream", false, "print progress events as JSON lines")
	rootCmd.AddCommand(identifyCmd)
}
