// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package upload ships persisted session files to the remote object store
// and retires them from the local history once the store has them.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// FileKind groups artifacts under the remote user namespace.
type FileKind string

const (
	KindVideo FileKind = "video"
	KindAudio FileKind = "audio"
	KindCSV   FileKind = "csv"
	KindOther FileKind = "other"
)

// Kind infers the artifact kind from the file extension.
func Kind(p string) FileKind {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp4", ".mov":
		return KindVideo
	case ".wav", ".m4a":
		return KindAudio
	case ".csv":
		return KindCSV
	default:
		return KindOther
	}
}

// ContentType is sent with the upload.
func ContentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/m4a"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// RemotePath is <prefix>/<user>/<kind>/<base name>.
func RemotePath(prefix, user, local string) string {
	return path.Join(prefix, user, string(Kind(local)), filepath.Base(local))
}

// Uploader stores one local file at remote.
type Uploader interface {
	Upload(ctx context.Context, local, remote string) error
}

// HTTPUploader PUTs files under BaseURL.
type HTTPUploader struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPUploader(baseURL, token string) *HTTPUploader {
	return &HTTPUploader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("upload: open %s: %w", local, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("upload: stat %s: %w", local, err)
	}

	target := u.BaseURL + "/" + (&url.URL{Path: strings.TrimLeft(remote, "/")}).EscapedPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
	if err != nil {
		return fmt.Errorf("upload: request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", ContentType(local))
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: put %s: %w", remote, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload: put %s: status %d", remote, resp.StatusCode)
	}
	return nil
}

// History is the local index of persisted files.
type History interface {
	History() ([]string, error)
	Delete(path string) error
}

// HistoryUploader drains the local history into the remote store.
type HistoryUploader struct {
	history     History
	uploader    Uploader
	prefix      string
	concurrency int
}

func NewHistoryUploader(history History, uploader Uploader, prefix string, concurrency int) *HistoryUploader {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &HistoryUploader{history: history, uploader: uploader, prefix: prefix, concurrency: concurrency}
}

// Result lists what UploadAll did.
type Result struct {
	Uploaded []string
	Failed   map[string]error
}

// UploadAll uploads every history file for user. A file and its history
// entry are removed only after its upload succeeded; failures are kept for
// the next attempt and returned joined.
func (h *HistoryUploader) UploadAll(ctx context.Context, user string) (Result, error) {
	files, err := h.history.History()
	if err != nil {
		return Result{}, err
	}

	type outcome struct {
		file string
		err  error
	}
	outcomes := make([]outcome, len(files))

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, file := range files {
		g.Go(func() error {
			remote := RemotePath(h.prefix, user, file)
			if err := h.uploader.Upload(ctx, file, remote); err != nil {
				outcomes[i] = outcome{file, err}
				log.Printf("upload: %s failed: %v", file, err)
				// one failed file must not cancel the others
				return nil
			}
			log.Printf("upload: %s -> %s", file, remote)
			outcomes[i] = outcome{file, nil}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Failed: make(map[string]error)}
	var errs []error
	for _, o := range outcomes {
		if o.err != nil {
			res.Failed[o.file] = o.err
			errs = append(errs, o.err)
			continue
		}
		if err := h.history.Delete(o.file); err != nil {
			res.Failed[o.file] = err
			errs = append(errs, err)
			continue
		}
		res.Uploaded = append(res.Uploaded, o.file)
	}
	return res, errors.Join(errs...)
}
