package records

import (
	"path/filepath"
	"strings"
)

// Keys of the reference record written into each block.
const (
	FieldPatientName = "patient_name"
	FieldPatientID   = "patient_id"
	FieldFileType    = "file_type"
	FieldDisease     = "disease"
	FieldFileStatus  = "file_status"
	FieldCID         = "cid"
	FieldUploadedBy  = "uploaded_by"
	FieldTimestamp   = "timestamp"
)

// File status values.
const (
	StatusOpen   = "Open"
	StatusClosed = "Closed"
)

// MetadataTimeLayout formats Metadata.Timestamp.
const MetadataTimeLayout = "2006-01-02 15:04:05"

// UploadRequest is the input to Service.Upload.
type UploadRequest struct {
	Filename        string `json:"filename"`
	PatientName     string `json:"patient_name"`
	PatientID       string `json:"patient_id"`
	FileType        string `json:"file_type"`
	Description     string `json:"description"`
	Disease         string `json:"disease"`
	FileOpen        bool   `json:"file_open"`
	NextAppointment string `json:"next_appointment"`
	Doctor          string `json:"doctor"`
	UploadedBy      string `json:"uploaded_by"`
	File            []byte `json:"file,omitempty"` // base64 in JSON
}

// Metadata is the document stored in the content store for each record.
// The attached file, if any, travels inside it base64-encoded.
type Metadata struct {
	Filename        string `json:"filename"`
	PatientID       string `json:"patient_id"`
	FileType        string `json:"file_type"`
	PatientName     string `json:"patient_name"`
	Timestamp       string `json:"timestamp"`
	Description     string `json:"description"`
	Disease         string `json:"disease"`
	FileStatus      string `json:"file-status"`
	NextAppointment string `json:"next-appointment"`
	Doctor          string `json:"doctor"`
	UploadedBy      string `json:"uploaded_by"`
	FileBase64      string `json:"file_base64,omitempty"`
	ImageBase64     string `json:"image_base64,omitempty"` // older documents
}

// File is a decoded attachment.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"csv":  "text/csv",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// MIMEType guesses a content type from filename's extension.
func MIMEType(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}
