package facematch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	defaultMeshURL     = "http://localhost:8000"
	defaultMeshTimeout = 10 * time.Second
)

// MeshClient detects 468 point face meshes using the landmark server.
type MeshClient struct {
	baseURL string
	client  *http.Client
}

// NewMeshClient creates a new landmark server client
func NewMeshClient(baseURL string) *MeshClient {
	if baseURL == "" {
		baseURL = defaultMeshURL
	}
	return &MeshClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultMeshTimeout},
	}
}

// meshFace represents a single face in the landmark server response
type meshFace struct {
	Landmarks  [][]float64 `json:"landmarks"` // [[x, y], ...] in pixels
	BBox       []float64   `json:"bbox"`      // [x1, y1, x2, y2]
	Score      float64     `json:"score"`
	BlinkScore float64     `json:"blink_score"`
}

// meshResponse represents the response from the landmark endpoint
type meshResponse struct {
	FacesCount int        `json:"faces_count"`
	Faces      []meshFace `json:"faces"`
	Model      string     `json:"model"`
}

// Topology returns MeshTopology.
func (c *MeshClient) Topology() Topology {
	return MeshTopology
}

// Detect encodes img as JPEG and posts it to /landmarks. Transport failures
// and server errors are reported as ErrModelUnavailable.
func (c *MeshClient) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	body, err := c.postMultipartImage(ctx, "/landmarks", buf.Bytes())
	if err != nil {
		return nil, err
	}

	var resp meshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for i, mf := range resp.Faces {
		face, err := mf.toFace()
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		faces = append(faces, face)
	}
	return faces, nil
}

func (mf meshFace) toFace() (Face, error) {
	points := make([]Point, 0, len(mf.Landmarks))
	for _, l := range mf.Landmarks {
		if len(l) < 2 {
			return Face{}, errors.New("landmark with fewer than 2 coordinates")
		}
		points = append(points, Point{X: l[0], Y: l[1]})
	}

	face := Face{Landmarks: points, Score: mf.Score, BlinkScore: mf.BlinkScore}
	if len(mf.BBox) == 4 {
		face.BBox = BBox{X1: mf.BBox[0], Y1: mf.BBox[1], X2: mf.BBox[2], Y2: mf.BBox[3]}
	}
	return face, nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *MeshClient) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrModelUnavailable, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
