package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"telspool/internal/format"
	"telspool/internal/spool"
)

var (
	outputFormatter format.Formatter = format.JSONFormatter{}
	stdout          io.Writer        = os.Stdout
)

func useFormatter(out *outputOptions) {
	if out != nil && out.yaml {
		outputFormatter = format.YAMLFormatter{}
		return
	}
	outputFormatter = format.JSONFormatter{}
}

func writeStructured(payload any) error {
	return outputFormatter.Write(stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(stdout, format, args...)
	return err
}

// blobView is the structured output form of a blob handle.
type blobView struct {
	Name        string     `json:"name" yaml:"name"`
	State       string     `json:"state" yaml:"state"`
	Size        int64      `json:"size" yaml:"size"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	LeaseExpiry *time.Time `json:"lease_expiry,omitempty" yaml:"lease_expiry,omitempty"`
	LeaseToken  string     `json:"lease_token,omitempty" yaml:"lease_token,omitempty"`
	Path        string     `json:"path" yaml:"path"`
}

func viewBlob(b *spool.Blob) blobView {
	v := blobView{
		Name:      b.Name(),
		State:     b.State().String(),
		Size:      b.Size(),
		CreatedAt: b.CreatedAt().UTC(),
		Path:      b.Path(),
	}
	if expiry := b.LeaseExpiry(); !expiry.IsZero() {
		expiry = expiry.UTC()
		v.LeaseExpiry = &expiry
	}
	if b.Held() {
		v.LeaseToken = b.LeaseToken()
	}
	return v
}

func formatBlobLine(b *spool.Blob) string {
	line := fmt.Sprintf("%s  %-9s  %8s  %s", b.Name(), b.State(), humanize.IBytes(uint64(b.Size())), formatTime(b.CreatedAt()))
	if expiry := b.LeaseExpiry(); !expiry.IsZero() {
		line += "  lease until " + formatTime(expiry)
	}
	return line
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
