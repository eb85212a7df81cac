// Package gdrive implements a filestore.Source backed by a Google Drive
// folder. Authentication uses an OAuth2 client credential pair plus a
// previously obtained token stored on disk.
package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/filestore"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const listPageSize = 100

// Source lists and downloads audio files from a single Drive folder.
type Source struct {
	service  *drive.Service
	folderID string
}

var _ filestore.Source = (*Source)(nil)

// Option configures a Source.
type Option func(*options)

type options struct {
	tokenFile string
	client    *http.Client
}

// WithTokenFile sets the path of the stored OAuth2 token. Defaults to
// "token-drive.json" in the working directory.
func WithTokenFile(path string) Option {
	return func(o *options) {
		o.tokenFile = path
	}
}

// WithHTTPClient bypasses the OAuth2 flow entirely and uses the given
// client for all API calls. Intended for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// New creates a Drive source rooted at folderID. clientID and clientSecret
// are the OAuth2 application credentials; the user token must already
// exist on disk (see WithTokenFile).
func New(ctx context.Context, clientID, clientSecret, folderID string, opts ...Option) (*Source, error) {
	if folderID == "" {
		return nil, errors.New("gdrive: folder ID must not be empty")
	}
	o := options{tokenFile: "token-drive.json"}
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil {
		if clientID == "" || clientSecret == "" {
			return nil, errors.New("gdrive: client ID and secret must not be empty")
		}
		cfg := &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{drive.DriveReadonlyScope},
			Endpoint:     google.Endpoint,
		}
		token, err := tokenFromFile(o.tokenFile)
		if err != nil {
			return nil, fmt.Errorf("gdrive: load token %s: %w", o.tokenFile, err)
		}
		client = cfg.Client(ctx, token)
	}

	service, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gdrive: create service: %w", err)
	}
	return &Source{service: service, folderID: folderID}, nil
}

// ListNew returns audio files in the folder modified after marker, oldest
// first. An empty marker returns every audio file in the folder.
func (s *Source) ListNew(ctx context.Context, marker string) ([]filestore.File, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType contains 'audio/' and trashed = false", s.folderID)
	if marker != "" {
		if _, err := time.Parse(time.RFC3339, marker); err != nil {
			return nil, pipeline.Fatal(fmt.Errorf("gdrive: invalid marker %q: %w", marker, err))
		}
		query += fmt.Sprintf(" and modifiedTime > '%s'", marker)
	}

	var files []filestore.File
	err := s.service.Files.List().
		Q(query).
		OrderBy("modifiedTime").
		PageSize(listPageSize).
		Fields("nextPageToken, files(id, name, size, modifiedTime)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				mod, err := time.Parse(time.RFC3339, f.ModifiedTime)
				if err != nil {
					return fmt.Errorf("parse modifiedTime of %s: %w", f.Id, err)
				}
				files = append(files, filestore.File{
					Ref:        f.Id,
					Name:       f.Name,
					Size:       f.Size,
					ModifiedAt: mod,
				})
			}
			return nil
		})
	if err != nil {
		return nil, classify("list files", err)
	}
	return files, nil
}

// Fetch downloads the file content. The caller must close the reader.
func (s *Source) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	resp, err := s.service.Files.Get(ref).Context(ctx).Download()
	if err != nil {
		return nil, classify(fmt.Sprintf("download %s", ref), err)
	}
	return resp.Body, nil
}

// classify maps Drive API failures onto the pipeline error taxonomy.
// Rate limits and server errors are worth retrying, everything else is
// not going to heal on its own.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("gdrive: %s: %w", op, pipeline.ErrNotFound)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return pipeline.Transient(fmt.Errorf("gdrive: %s: %w", op, err))
		default:
			return pipeline.Fatal(fmt.Errorf("gdrive: %s: %w", op, err))
		}
	}
	// No structured response means the request never completed.
	return pipeline.Transient(fmt.Errorf("gdrive: %s: %w", op, err))
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
