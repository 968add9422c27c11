// Package drive fetches files from Google Drive on behalf of a user.
// The OAuth token travels with each call, so one client serves all
// users.
package drive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/tessera-ai/tessera/internal/core"
)

// exportFormat maps a Google-native MIME type to the portable format
// it is exported as, plus the filename extension to append.
type exportFormat struct {
	mimeType string
	ext      string
}

var exportFormats = map[string]exportFormat{
	"application/vnd.google-apps.document":     {mimeType: "text/plain", ext: ".txt"},
	"application/vnd.google-apps.spreadsheet":  {mimeType: "text/csv", ext: ".csv"},
	"application/vnd.google-apps.presentation": {mimeType: "application/pdf", ext: ".pdf"},
}

// supportedMimeTypes limits folder imports to files the pipeline can
// process. Audio and video are matched by prefix.
var supportedMimeTypes = map[string]bool{
	"application/pdf":    true,
	"text/plain":         true,
	"text/csv":           true,
	"text/markdown":      true,
	"text/html":          true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.google-apps.document":                                      true,
	"application/vnd.google-apps.spreadsheet":                                   true,
	"application/vnd.google-apps.presentation":                                  true,
}

const folderMimeType = "application/vnd.google-apps.folder"

type Client struct{}

func NewClient() *Client { return &Client{} }

var _ core.DriveClient = (*Client)(nil)

func (c *Client) service(ctx context.Context, oauthToken string) (*drivev3.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: oauthToken})
	srv, err := drivev3.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return srv, nil
}

// DownloadFile fetches a file's payload. Google-native documents are
// exported; everything else downloads as stored.
func (c *Client) DownloadFile(ctx context.Context, fileID, oauthToken string) ([]byte, string, string, error) {
	srv, err := c.service(ctx, oauthToken)
	if err != nil {
		return nil, "", "", err
	}

	meta, err := srv.Files.Get(fileID).Fields("id, name, mimeType, size").Context(ctx).Do()
	if err != nil {
		return nil, "", "", fmt.Errorf("drive file metadata %s: %w", fileID, err)
	}

	filename := meta.Name
	mimeType := meta.MimeType

	if ef, ok := exportFormats[meta.MimeType]; ok {
		res, err := srv.Files.Export(fileID, ef.mimeType).Context(ctx).Download()
		if err != nil {
			return nil, "", "", fmt.Errorf("drive export %s: %w", fileID, err)
		}
		defer res.Body.Close()
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, "", "", fmt.Errorf("read export body: %w", err)
		}
		if !strings.HasSuffix(strings.ToLower(filename), ef.ext) {
			filename += ef.ext
		}
		return data, filename, ef.mimeType, nil
	}

	res, err := srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, "", "", fmt.Errorf("drive download %s: %w", fileID, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", "", fmt.Errorf("read download body: %w", err)
	}
	return data, filename, mimeType, nil
}

// ListFolderFiles lists importable files in a folder. Subfolders are
// walked when recursive is set; unsupported types are skipped rather
// than rejected.
func (c *Client) ListFolderFiles(ctx context.Context, folderID, oauthToken string, recursive bool) ([]core.DriveFile, error) {
	srv, err := c.service(ctx, oauthToken)
	if err != nil {
		return nil, err
	}
	return c.listFolder(ctx, srv, folderID, recursive)
}

func (c *Client) listFolder(ctx context.Context, srv *drivev3.Service, folderID string, recursive bool) ([]core.DriveFile, error) {
	var out []core.DriveFile

	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	pageToken := ""
	for {
		call := srv.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, mimeType, size)").
			PageSize(1000).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list folder %s: %w", folderID, err)
		}

		for _, f := range page.Files {
			if f.MimeType == folderMimeType {
				if recursive {
					sub, err := c.listFolder(ctx, srv, f.Id, recursive)
					if err != nil {
						return nil, err
					}
					out = append(out, sub...)
				}
				continue
			}
			if !isSupported(f.MimeType) {
				continue
			}
			out = append(out, core.DriveFile{
				ID:       f.Id,
				Name:     f.Name,
				MimeType: f.MimeType,
				Size:     f.Size,
			})
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return out, nil
}

func isSupported(mimeType string) bool {
	if supportedMimeTypes[mimeType] {
		return true
	}
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "video/")
}
