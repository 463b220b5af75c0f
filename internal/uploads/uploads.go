// Package uploads issues presigned PUT URLs for source documents headed
// into ingestion.
package uploads

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/logging"
)

const (
	pptxContentType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	docContentType  = "application/msword"

	maxOfficeDocBytes = 50 * 1024 * 1024
	urlExpiry         = 900 * time.Second
)

var courseIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// extensionFor maps each accepted content type onto its required
// filename extension.
var extensionFor = map[string]string{
	"application/pdf": ".pdf",
	"text/plain":      "",
	pptxContentType:   ".pptx",
	docxContentType:   ".docx",
	docContentType:    ".doc",
}

// Request is the POST /uploads payload. ContentLengthBytes is required
// for office formats only.
type Request struct {
	CourseID           string `json:"courseId"`
	Filename           string `json:"filename"`
	ContentType        string `json:"contentType"`
	ContentLengthBytes int64  `json:"contentLengthBytes,omitempty"`
}

// Response carries the minted document identity and the presigned URL.
type Response struct {
	DocID            string `json:"docId"`
	Key              string `json:"key"`
	UploadURL        string `json:"uploadUrl"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
	ContentType      string `json:"contentType"`
}

// ObjectKey builds the stable key for an uploaded source document.
func ObjectKey(courseID, docID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s/%s", courseID, docID, filename)
}

func isOffice(contentType string) bool {
	switch contentType {
	case pptxContentType, docxContentType, docContentType:
		return true
	default:
		return false
	}
}

// validate normalizes and checks the request, returning the cleaned copy.
func validate(req Request) (Request, error) {
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.Filename = strings.TrimSpace(req.Filename)
	req.ContentType = strings.TrimSpace(req.ContentType)

	if req.CourseID == "" {
		return req, apperr.NewValidation("'courseId' must be a non-empty string")
	}
	if req.Filename == "" {
		return req, apperr.NewValidation("'filename' must be a non-empty string")
	}
	if req.ContentType == "" {
		return req, apperr.NewValidation("'contentType' must be a non-empty string")
	}
	if !courseIDPattern.MatchString(req.CourseID) {
		return req, apperr.NewValidation("'courseId' must contain only letters, numbers, '.', '_' or '-'")
	}

	ext, allowed := extensionFor[req.ContentType]
	if !allowed {
		return req, apperr.NewValidation(
			"'contentType' must be one of: application/pdf, text/plain, %s, %s, %s",
			pptxContentType, docxContentType, docContentType)
	}

	name := req.Filename
	if name != path.Base(name) || strings.ContainsRune(name, '\\') || name == "." || name == ".." {
		return req, apperr.NewValidation("'filename' must be a bare file name")
	}
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
		return req, apperr.NewValidation("'filename' must end with '%s' for %s uploads", ext, req.ContentType)
	}

	if isOffice(req.ContentType) {
		if req.ContentLengthBytes <= 0 {
			return req, apperr.NewValidation("'contentLengthBytes' must be a positive integer for .pptx/.docx/.doc uploads")
		}
		if req.ContentLengthBytes > maxOfficeDocBytes {
			return req, apperr.NewValidation("'%s' exceeds 50MB limit", ext)
		}
	}
	return req, nil
}

// Service mints document ids and signs upload URLs.
type Service struct {
	presigner awssdk.S3Presigner
	bucket    string
	expiry    time.Duration
	newDocID  func() string
	log       logging.Logger
}

// NewService wires a Service against the uploads bucket.
func NewService(presigner awssdk.S3Presigner, bucket string, log logging.Logger) *Service {
	return &Service{
		presigner: presigner,
		bucket:    bucket,
		expiry:    urlExpiry,
		newDocID:  func() string { return "doc-" + uuid.NewString() },
		log:       logging.OrNop(log),
	}
}

// Create validates the request and returns a presigned PUT URL.
func (s *Service) Create(ctx context.Context, req Request) (Response, error) {
	req, err := validate(req)
	if err != nil {
		return Response{}, err
	}
	if s.bucket == "" {
		return Response{}, apperr.NewMisconfigured("UPLOADS_BUCKET")
	}

	docID := s.newDocID()
	key := ObjectKey(req.CourseID, docID, req.Filename)
	signed, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(req.ContentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.expiry
	})
	if err != nil {
		return Response{}, apperr.NewUpstream("upload URL signing", err)
	}

	s.log.Info("minted upload %s for course %s (%s)", docID, req.CourseID, req.ContentType)
	return Response{
		DocID:            docID,
		Key:              key,
		UploadURL:        signed.URL,
		ExpiresInSeconds: int(s.expiry / time.Second),
		ContentType:      req.ContentType,
	}, nil
}
