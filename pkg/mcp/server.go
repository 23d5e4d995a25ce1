package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/duynguyendang/sq8/internal/manager"
	"github.com/duynguyendang/sq8/pkg/codec"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const formatURI = "sq8://format"

// MCPServer exposes the codec and the dataset stores as MCP tools.
type MCPServer struct {
	manager    *manager.DatasetManager
	maxSamples int
}

// NewServer builds the MCP server with every tool and resource registered.
func NewServer(mgr *manager.DatasetManager, maxSamples int) *server.MCPServer {
	s := server.NewMCPServer(
		"sq8",
		"0.1.0",
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)

	ms := &MCPServer{manager: mgr, maxSamples: maxSamples}

	// --- Resources ---

	s.AddResource(
		mcp.NewResource(
			formatURI,
			"Wire Format",
			mcp.WithResourceDescription("Layout of an sq8 encoded buffer"),
			mcp.WithMIMEType("text/markdown"),
		),
		ms.handleFormat,
	)

	// --- Tools ---

	s.AddTool(
		mcp.NewTool(
			"encode_samples",
			mcp.WithDescription("Quantize float32 samples to one byte each. Returns the header and a base64 buffer."),
			mcp.WithArray("samples", mcp.Required(), mcp.Description("Finite numbers to encode"),
				mcp.Items(map[string]any{"type": "number"})),
		),
		ms.handleEncodeSamples,
	)

	s.AddTool(
		mcp.NewTool(
			"decode_buffer",
			mcp.WithDescription("Reconstruct samples from a base64 encoded sq8 buffer."),
			mcp.WithString("buffer", mcp.Required(), mcp.Description("Standard base64 of the encoded buffer")),
		),
		ms.handleDecodeBuffer,
	)

	s.AddTool(
		mcp.NewTool(
			"list_datasets",
			mcp.WithDescription("List the datasets available for storage."),
		),
		ms.handleListDatasets,
	)

	s.AddTool(
		mcp.NewTool(
			"store_samples",
			mcp.WithDescription("Encode samples and store the buffer in a dataset."),
			mcp.WithString("dataset", mcp.Required(), mcp.Description("Dataset name")),
			mcp.WithString("name", mcp.Description("Label stored with the blob")),
			mcp.WithArray("samples", mcp.Required(), mcp.Description("Finite numbers to encode"),
				mcp.Items(map[string]any{"type": "number"})),
		),
		ms.handleStoreSamples,
	)

	s.AddTool(
		mcp.NewTool(
			"get_blob",
			mcp.WithDescription("Fetch a stored blob and return its decoded samples."),
			mcp.WithString("dataset", mcp.Required(), mcp.Description("Dataset name")),
			mcp.WithString("id", mcp.Required(), mcp.Description("Blob ID returned by store_samples")),
		),
		ms.handleGetBlob,
	)

	return s
}

// Run starts the MCP server on Stdio. It returns when stdin is closed or ctx is cancelled.
func Run(ctx context.Context, mgr *manager.DatasetManager, maxSamples int) error {
	slog.Info("Starting MCP server on Stdio")
	return Serve(ctx, mgr, maxSamples, os.Stdin, os.Stdout)
}

// Serve speaks the MCP stdio protocol over in and out.
func Serve(ctx context.Context, mgr *manager.DatasetManager, maxSamples int, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(NewServer(mgr, maxSamples))
	stdio.SetErrorLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))

	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// --- Resource Handlers ---

func (ms *MCPServer) handleFormat(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	content := `
# sq8 Buffer Format

| Offset  | Size | Field   | Encoding                 |
|---------|------|---------|--------------------------|
| 0       | 4    | min     | float32, little-endian   |
| 4       | 4    | max     | float32, little-endian   |
| 8       | N    | payload | one uint8 per sample     |

- Encode: q = roundHalfEven((v - min) / (max - min) * 255)
- Decode: v = min + q/255 * (max - min). min and max are reconstructed exactly.
- max == min: payload is all zeros and every sample decodes to min.
- Worst-case absolute error is (max - min) / 510.
- No magic number, version tag or checksum.
`
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "text/markdown",
			Text:     content,
		},
	}, nil
}

// --- Tool Handlers ---

func (ms *MCPServer) handleEncodeSamples(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	samples, errResult := ms.samplesArg(request.GetArguments())
	if errResult != nil {
		return errResult, nil
	}

	buf, err := codec.Encode(samples)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}
	h, err := codec.ReadHeader(buf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"min":    h.Min,
		"max":    h.Max,
		"count":  len(samples),
		"ratio":  codec.CompressionRatio(len(samples)),
		"buffer": base64.StdEncoding.EncodeToString(buf),
	})
}

func (ms *MCPServer) handleDecodeBuffer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	encoded, ok := args["buffer"].(string)
	if !ok {
		return mcp.NewToolResultError("buffer argument required"), nil
	}

	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("buffer is not valid base64: %v", err)), nil
	}
	if n := len(buf) - codec.HeaderSize; n > ms.maxSamples {
		return mcp.NewToolResultError(fmt.Sprintf("buffer holds %d samples, limit is %d", n, ms.maxSamples)), nil
	}

	h, samples, err := codec.DecodeInto(nil, buf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decode failed: %v", err)), nil
	}
	return jsonResult(frameResult(codec.Frame{Header: h, Samples: samples}))
}

func (ms *MCPServer) handleListDatasets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	datasets, err := ms.manager.ListDatasets()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list datasets: %v", err)), nil
	}
	return jsonResult(datasets)
}

func (ms *MCPServer) handleStoreSamples(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	dataset, ok := args["dataset"].(string)
	if !ok {
		return mcp.NewToolResultError("dataset argument required"), nil
	}
	name, _ := args["name"].(string)

	samples, errResult := ms.samplesArg(args)
	if errResult != nil {
		return errResult, nil
	}

	st, err := ms.manager.GetStore(dataset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	meta, err := st.PutSamples(name, samples)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store failed: %v", err)), nil
	}
	return jsonResult(meta)
}

func (ms *MCPServer) handleGetBlob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	dataset, ok1 := args["dataset"].(string)
	id, ok2 := args["id"].(string)
	if !ok1 || !ok2 {
		return mcp.NewToolResultError("dataset and id arguments required"), nil
	}

	frame, err := ms.manager.GetFrame(dataset, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(frameResult(frame))
}

// samplesArg extracts the "samples" argument. Clients send either a JSON
// array or a string holding one.
func (ms *MCPServer) samplesArg(args map[string]any) ([]float32, *mcp.CallToolResult) {
	var values []float64
	switch v := args["samples"].(type) {
	case []any:
		if len(v) > ms.maxSamples {
			return nil, mcp.NewToolResultError(fmt.Sprintf("%d samples exceeds limit of %d", len(v), ms.maxSamples))
		}
		values = make([]float64, len(v))
		for i, item := range v {
			f, ok := item.(float64)
			if !ok {
				return nil, mcp.NewToolResultError(fmt.Sprintf("samples[%d] is not a number", i))
			}
			values[i] = f
		}
	case string:
		if err := json.Unmarshal([]byte(v), &values); err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("samples is not a JSON number array: %v", err))
		}
	default:
		return nil, mcp.NewToolResultError("samples argument required")
	}

	if len(values) > ms.maxSamples {
		return nil, mcp.NewToolResultError(fmt.Sprintf("%d samples exceeds limit of %d", len(values), ms.maxSamples))
	}

	// Values beyond float32 range become infinite and are rejected by the encoder.
	samples := make([]float32, len(values))
	for i, f := range values {
		samples[i] = float32(f)
	}
	return samples, nil
}

func frameResult(f codec.Frame) map[string]any {
	return map[string]any{
		"min":     f.Min,
		"max":     f.Max,
		"count":   len(f.Samples),
		"samples": f.Samples,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to marshal result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
