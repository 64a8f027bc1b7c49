package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/rookery/internal/measurement"
)

// DefaultWeight is sent when the station has no scale reading of its own.
const DefaultWeight = 5.5

// errNoImage is returned by newestImage when no candidate is fresh enough.
var errNoImage = errors.New("no recent .jpg image found")

// uploader posts measurements with their image to POST /penguin.
type uploader struct {
	baseURL string
	client  *http.Client
}

// upload sends rec as the "metadata" part and the file at path as the
// "image" part. An empty path sends the metadata alone.
func (u *uploader) upload(ctx context.Context, rec measurement.Record, path string) (*http.Response, error) {
	meta, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="metadata"`)
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, err
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		fw, err := mw.CreateFormFile("image", filepath.Base(path))
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(fw, f); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(u.baseURL, "/")+"/penguin", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return u.client.Do(req)
}

// recordAt builds the metadata for a capture taken at t.
func recordAt(weight float64, subjectID string, t time.Time) measurement.Record {
	return measurement.Record{
		SubjectID: subjectID,
		Weight:    &weight,
		Date:      t.Format(measurement.DateLayout),
		Time:      t.Format(measurement.TimeLayout),
	}
}

// isImage reports whether name has a .jpg extension, ignoring case.
func isImage(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".jpg")
}

// newestImage returns the most recently modified .jpg in dir whose
// modification time is within threshold of now.
func newestImage(dir string, threshold time.Duration, now time.Time) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if now.Sub(mod) > threshold || mod.Before(bestMod) {
			continue
		}
		best, bestMod = filepath.Join(dir, e.Name()), mod
	}
	if best == "" {
		return "", errNoImage
	}
	return best, nil
}

// NewUploadCommand constructs the `upload` command: pick the newest image a
// camera just wrote and post it with a weight reading.
func NewUploadCommand(baseURL BaseURLFunc) *cobra.Command {
	uploadCmd := &cobra.Command{
		Use:   "upload [image]",
		Short: "Upload a measurement with the newest captured image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			threshold, _ := cmd.Flags().GetDuration("threshold")
			weight, _ := cmd.Flags().GetFloat64("weight")
			subjectID, _ := cmd.Flags().GetString("subject")
			noImage, _ := cmd.Flags().GetBool("no-image")

			now := time.Now()
			var path string
			switch {
			case noImage:
			case len(args) == 1:
				path = args[0]
			default:
				p, err := newestImage(dir, threshold, now)
				if err != nil {
					return fmt.Errorf("%w in %s within %s", err, dir, threshold)
				}
				path = p
			}

			u := &uploader{baseURL: baseURL(), client: httpClient}
			resp, err := u.upload(cmd.Context(), recordAt(weight, subjectID, now), path)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	uploadCmd.Flags().String("dir", ".", "Directory the camera writes images to")
	uploadCmd.Flags().Duration("threshold", 10*time.Second, "Maximum age of the image to upload")
	uploadCmd.Flags().Float64("weight", DefaultWeight, "Weight reading in kg")
	uploadCmd.Flags().String("subject", "", "Penguin id (default: the server's current selection)")
	uploadCmd.Flags().Bool("no-image", false, "Send the measurement without an image")
	return uploadCmd
}
