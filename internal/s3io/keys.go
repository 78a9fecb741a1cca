package s3io

import (
	"fmt"
	"strings"
)

const refScheme = "s3://"

// Ref points at an object in a bucket.
type Ref struct {
	Bucket string
	Key    string
}

// String renders the reference in s3://bucket/key form, the form stored in the database.
func (r Ref) String() string {
	return refScheme + r.Bucket + "/" + r.Key
}

// ParseRef parses an s3://bucket/key reference.
func ParseRef(raw string) (Ref, bool) {
	if !strings.HasPrefix(raw, refScheme) {
		return Ref{}, false
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(raw, refScheme), "/")
	if !ok || bucket == "" || key == "" {
		return Ref{}, false
	}
	return Ref{Bucket: bucket, Key: key}, true
}

// imageExt maps accepted profile image content types to file extensions.
var imageExt = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// ProfileImageKey builds the object key for an agent's profile image.
func ProfileImageKey(agentCode, contentType string) (string, error) {
	ext, ok := imageExt[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("unsupported image type %q", contentType)
	}
	return fmt.Sprintf("agents/%s/profile.%s", agentCode, ext), nil
}

// UploadHeaders builds the headers the browser must send on the presigned PUT.
func UploadHeaders(agentCode, contentType string) map[string]string {
	return map[string]string{
		"Content-Type":                 contentType,
		"x-amz-server-side-encryption": "aws:kms",
		"x-amz-meta-agent_code":        agentCode,
	}
}

// ParseProfileImageKey extracts the agent code from an agents/{code}/profile.{ext} key.
func ParseProfileImageKey(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "agents" || parts[1] == "" {
		return "", false
	}
	switch parts[2] {
	case "profile.jpg", "profile.png":
		return parts[1], true
	}
	return "", false
}
