package core

import "context"

// DriveFile is one listable entry in a cloud drive folder.
type DriveFile struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// DriveClient fetches files from a user's cloud drive. The OAuth token
// is per-call because it belongs to the requesting user, not the
// service.
type DriveClient interface {
	// DownloadFile returns the payload, resolved filename and MIME
	// type. Google-native documents are exported to a portable format
	// and the filename gains the matching extension.
	DownloadFile(ctx context.Context, fileID, oauthToken string) (data []byte, filename, mimeType string, err error)

	// ListFolderFiles lists supported files in a folder, descending
	// into subfolders when recursive is set.
	ListFolderFiles(ctx context.Context, folderID, oauthToken string, recursive bool) ([]DriveFile, error)
}
