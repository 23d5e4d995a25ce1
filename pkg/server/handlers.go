package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/duynguyendang/sq8/internal/manager"
	"github.com/duynguyendang/sq8/pkg/codec"
	apperrors "github.com/duynguyendang/sq8/pkg/common/errors"
	"github.com/gin-gonic/gin"
)

const octetStream = "application/octet-stream"

const (
	// jsonSampleBytes is the widest JSON rendering of one float32 plus separator.
	jsonSampleBytes = 32
	// jsonEnvelopeBytes covers field names, blob names and whitespace around the payload.
	jsonEnvelopeBytes = 4 << 10
)

type encodeRequest struct {
	Samples []float32 `json:"samples"`
}

type encodeResponse struct {
	Min    float32       `json:"min"`
	Max    float32       `json:"max"`
	Count  int           `json:"count"`
	Ratio  float64       `json:"ratio"`
	Buffer []byte        `json:"buffer"`
	Stats  *codec.Report `json:"stats,omitempty"`
}

type decodeRequest struct {
	Buffer []byte `json:"buffer"`
}

type decodeResponse struct {
	codec.Frame
	Count int `json:"count"`
}

// handleEncode quantizes a sample sequence.
// JSON bodies get a JSON answer with a base64 buffer; raw little-endian
// float32 bodies (application/octet-stream) get the raw buffer back.
func (s *Server) handleEncode(c *gin.Context) {
	if c.ContentType() == octetStream {
		raw, err := s.readBody(c, int64(s.limits.MaxSamples)*4)
		if err != nil {
			handleError(c, err)
			return
		}
		samples, err := codec.Float32sFromBytes(raw)
		if err != nil {
			handleError(c, err)
			return
		}
		buf, err := codec.Encode(samples)
		if err != nil {
			handleError(c, err)
			return
		}
		c.Data(http.StatusOK, octetStream, buf)
		return
	}

	var req encodeRequest
	if err := bindJSON(c, &req, s.samplesBodyLimit()); err != nil {
		handleError(c, err)
		return
	}
	if err := s.checkSamples(len(req.Samples)); err != nil {
		handleError(c, err)
		return
	}

	buf, err := codec.Encode(req.Samples)
	if err != nil {
		handleError(c, err)
		return
	}

	resp, err := newEncodeResponse(req.Samples, buf, c.Query("stats") == "true")
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleEncodeBatch encodes several sequences in parallel.
func (s *Server) handleEncodeBatch(c *gin.Context) {
	var req struct {
		Sequences [][]float32 `json:"sequences"`
	}
	if err := bindJSON(c, &req, int64(s.limits.MaxBatch)*s.samplesBodyLimit()); err != nil {
		handleError(c, err)
		return
	}
	if err := s.checkBatch(len(req.Sequences)); err != nil {
		handleError(c, err)
		return
	}
	for _, seq := range req.Sequences {
		if err := s.checkSamples(len(seq)); err != nil {
			handleError(c, err)
			return
		}
	}

	bufs, err := codec.EncodeBatch(c.Request.Context(), req.Sequences)
	if err != nil {
		handleError(c, err)
		return
	}

	items := make([]encodeResponse, len(bufs))
	for i, buf := range bufs {
		resp, err := newEncodeResponse(req.Sequences[i], buf, false)
		if err != nil {
			handleError(c, err)
			return
		}
		items[i] = resp
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// handleDecode reconstructs samples from a buffer sent either as JSON
// ({"buffer": base64}) or as a raw application/octet-stream body.
func (s *Server) handleDecode(c *gin.Context) {
	var buf []byte
	if c.ContentType() == octetStream {
		raw, err := s.readBody(c, int64(codec.EncodedLen(s.limits.MaxSamples)))
		if err != nil {
			handleError(c, err)
			return
		}
		buf = raw
	} else {
		var req decodeRequest
		if err := bindJSON(c, &req, s.bufferBodyLimit()); err != nil {
			handleError(c, err)
			return
		}
		buf = req.Buffer
	}

	if err := s.checkSamples(len(buf) - codec.HeaderSize); err != nil {
		handleError(c, err)
		return
	}

	h, samples, err := codec.DecodeInto(nil, buf)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, decodeResponse{
		Frame: codec.Frame{Header: h, Samples: samples},
		Count: len(samples),
	})
}

// handleDecodeBatch decodes several base64 buffers in parallel.
func (s *Server) handleDecodeBatch(c *gin.Context) {
	var req struct {
		Buffers [][]byte `json:"buffers"`
	}
	if err := bindJSON(c, &req, int64(s.limits.MaxBatch)*s.bufferBodyLimit()); err != nil {
		handleError(c, err)
		return
	}
	if err := s.checkBatch(len(req.Buffers)); err != nil {
		handleError(c, err)
		return
	}
	for _, buf := range req.Buffers {
		if err := s.checkSamples(len(buf) - codec.HeaderSize); err != nil {
			handleError(c, err)
			return
		}
	}

	frames, err := codec.DecodeBatch(c.Request.Context(), req.Buffers)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"frames": frames})
}

func newEncodeResponse(samples []float32, buf []byte, withStats bool) (encodeResponse, error) {
	h, err := codec.ReadHeader(buf)
	if err != nil {
		return encodeResponse{}, err
	}
	resp := encodeResponse{
		Min:    h.Min,
		Max:    h.Max,
		Count:  len(samples),
		Ratio:  codec.CompressionRatio(len(samples)),
		Buffer: buf,
	}
	if withStats {
		_, decoded, err := codec.DecodeInto(nil, buf)
		if err != nil {
			return encodeResponse{}, err
		}
		report, err := codec.Measure(samples, decoded)
		if err != nil {
			return encodeResponse{}, err
		}
		resp.Stats = &report
	}
	return resp, nil
}

func (s *Server) checkSamples(n int) error {
	if n > s.limits.MaxSamples {
		return apperrors.NewAppError(http.StatusRequestEntityTooLarge, "Too many samples",
			fmt.Errorf("%d samples exceeds limit of %d", n, s.limits.MaxSamples))
	}
	return nil
}

func (s *Server) checkBatch(n int) error {
	if n > s.limits.MaxBatch {
		return apperrors.NewAppError(http.StatusRequestEntityTooLarge, "Batch too large",
			fmt.Errorf("%d items exceeds limit of %d", n, s.limits.MaxBatch))
	}
	return nil
}

// samplesBodyLimit bounds a JSON body carrying up to MaxSamples numbers.
func (s *Server) samplesBodyLimit() int64 {
	return int64(s.limits.MaxSamples)*jsonSampleBytes + jsonEnvelopeBytes
}

// bufferBodyLimit bounds a JSON body carrying one base64 buffer of up to MaxSamples samples.
func (s *Server) bufferBodyLimit() int64 {
	return int64(base64.StdEncoding.EncodedLen(codec.EncodedLen(s.limits.MaxSamples))) + jsonEnvelopeBytes
}

// readBody reads the raw request body, refusing anything larger than limit bytes.
func (s *Server) readBody(c *gin.Context, limit int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, bodyError(err)
	}
	return data, nil
}

// bindJSON decodes a JSON body of at most limit bytes into v.
func bindJSON(c *gin.Context, v any, limit int64) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.ShouldBindJSON(v); err != nil {
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.NewAppError(http.StatusRequestEntityTooLarge, "Request body too large", err)
	}
	return apperrors.NewAppError(http.StatusBadRequest, "Invalid request body", err)
}

// handleError maps err onto a status code and a JSON body. Unknown datasets
// carry the closest existing name as a suggestion.
func handleError(c *gin.Context, err error) {
	appErr := apperrors.MapError(err)
	body := gin.H{"error": appErr.Message}

	if appErr.Code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	} else if appErr.Err != nil {
		body["detail"] = appErr.Err.Error()
	}

	var notFound *manager.DatasetNotFoundError
	if errors.As(err, &notFound) && notFound.Suggestion != "" {
		body["suggestion"] = notFound.Suggestion
	}

	c.JSON(appErr.Code, body)
}
