// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/x448/float16"
)

// Spectrogram is the mel spectrogram returned by the classification
// service, indexed [segment][mel bin][frame].
type Spectrogram [][][]float64

// Classifier turns a window of samples into a spectrogram.
type Classifier interface {
	Classify(ctx context.Context, samples []float32) (Spectrogram, error)
}

// EncodeFloat16 packs samples as little-endian IEEE 754 half floats.
func EncodeFloat16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(s).Bits())
	}
	return out
}

// HTTPClassifier posts Float16 samples to a remote endpoint.
type HTTPClassifier struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewHTTPClassifier(url, token string) *HTTPClassifier {
	return &HTTPClassifier{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

type classifyResponse struct {
	MelSpectrogram Spectrogram `json:"mel_spectrogram"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, samples []float32) (Spectrogram, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(EncodeFloat16(samples)))
	if err != nil {
		return nil, fmt.Errorf("audio: classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio: classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("audio: classify: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("audio: decode classify response: %w", err)
	}
	if len(out.MelSpectrogram) == 0 {
		return nil, fmt.Errorf("audio: classify response has no mel_spectrogram")
	}
	return out.MelSpectrogram, nil
}
