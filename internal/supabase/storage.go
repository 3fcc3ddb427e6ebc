package supabase

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"
)

type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) (*StorageClient, error) {
	baseURL := supabaseURL
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

// UploadArtifact stores a generated image under a fresh, timestamped key.
// Keys are never reused; superseded artifacts stay in place until the
// keep-vs-revert decision deletes them explicitly.
func (s *StorageClient) UploadArtifact(projectID, entityID uuid.UUID, kind string, data []byte, mimeType string) (string, string, error) {
	ext := "png"
	if mimeType == "image/jpeg" {
		ext = "jpg"
	}
	storagePath := fmt.Sprintf("projects/%s/%s/%s_%s.%s",
		projectID.String(), kind, entityID.String(), time.Now().UTC().Format("20060102_150405"), ext)

	upsert := false
	_, err := s.client.UploadFile(s.bucket, storagePath, bytes.NewReader(data), storage.FileOptions{
		ContentType: &mimeType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	return storagePath, s.GetPublicURL(storagePath), nil
}

func (s *StorageClient) GetPublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		s.baseURL, s.bucket, storagePath)
}

// PathFromPublicURL inverts GetPublicURL so a stored URL can be deleted.
func (s *StorageClient) PathFromPublicURL(publicURL string) string {
	prefix := fmt.Sprintf("%s/storage/v1/object/public/%s/", s.baseURL, s.bucket)
	if len(publicURL) > len(prefix) && publicURL[:len(prefix)] == prefix {
		return publicURL[len(prefix):]
	}
	return ""
}

func (s *StorageClient) DeleteFile(storagePath string) error {
	_, err := s.client.RemoveFile(s.bucket, []string{storagePath})
	return err
}

func (s *StorageClient) DeleteProjectFiles(projectID uuid.UUID) error {
	prefix := fmt.Sprintf("projects/%s/", projectID.String())

	files, err := s.client.ListFiles(s.bucket, prefix, storage.FileSearchOptions{
		Limit: 1000,
	})
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	if len(files) > 0 {
		filePaths := make([]string, len(files))
		for i, file := range files {
			filePaths[i] = file.Name
		}
		_, err = s.client.RemoveFile(s.bucket, filePaths)
		if err != nil {
			return fmt.Errorf("failed to delete files: %w", err)
		}
	}

	return nil
}
