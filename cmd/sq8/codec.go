package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/duynguyendang/sq8/pkg/codec"
	"github.com/spf13/cobra"
)

func (a *app) encodeCmd() *cobra.Command {
	var in, out string
	var jsonIn bool

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Quantize little-endian float32 samples into an sq8 buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := readSamples(cmd, in, jsonIn)
			if err != nil {
				return err
			}
			buf, err := codec.Encode(samples)
			if err != nil {
				return err
			}
			slog.Debug("encoded samples", "count", len(samples), "bytes", len(buf))
			return writeOutput(cmd, out, buf)
		},
	}

	cmd.Flags().StringVar(&in, "in", "-", "input samples, raw float32 LE unless --json (- for stdin)")
	cmd.Flags().StringVar(&out, "out", "-", "output buffer (- for stdout)")
	cmd.Flags().BoolVar(&jsonIn, "json", false, "read samples as a JSON number array")
	return cmd
}

func (a *app) decodeCmd() *cobra.Command {
	var in, out string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Reconstruct float32 samples from an sq8 buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			_, _, samples, err := codec.Decode(buf)
			if err != nil {
				return err
			}
			slog.Debug("decoded buffer", "count", len(samples))

			if !jsonOut {
				return writeOutput(cmd, out, codec.Float32sToBytes(samples))
			}
			data, err := json.Marshal(samples)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, append(data, '\n'))
		},
	}

	cmd.Flags().StringVar(&in, "in", "-", "input buffer (- for stdin)")
	cmd.Flags().StringVar(&out, "out", "-", "output samples, raw float32 LE unless --json (- for stdout)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "write samples as a JSON number array")
	return cmd
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <buffer|->",
		Short: "Print the header and size figures of an sq8 buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			h, err := codec.ReadHeader(buf)
			if err != nil {
				return err
			}

			n := len(buf) - codec.HeaderSize
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "min:    %g\n", h.Min)
			fmt.Fprintf(w, "max:    %g\n", h.Max)
			fmt.Fprintf(w, "count:  %d\n", n)
			fmt.Fprintf(w, "step:   %g\n", h.Step())
			fmt.Fprintf(w, "bound:  %g\n", h.Step()/2)
			fmt.Fprintf(w, "ratio:  %.3f\n", codec.CompressionRatio(n))
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	var in string
	var jsonIn bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Encode samples and report the reconstruction error",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := readSamples(cmd, in, jsonIn)
			if err != nil {
				return err
			}
			buf, err := codec.Encode(samples)
			if err != nil {
				return err
			}
			_, _, decoded, err := codec.Decode(buf)
			if err != nil {
				return err
			}
			report, err := codec.Measure(samples, decoded)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "count:           %d\n", report.Count)
			fmt.Fprintf(w, "max_abs_error:   %g\n", report.MaxAbsError)
			fmt.Fprintf(w, "mean_abs_error:  %g\n", report.MeanAbsError)
			fmt.Fprintf(w, "rmse:            %g\n", report.RMSE)
			fmt.Fprintf(w, "bound:           %g\n", report.Bound)
			fmt.Fprintf(w, "within_bound:    %t\n", report.WithinBound(float64(maxMagnitude(samples))*1e-7))
			fmt.Fprintf(w, "ratio:           %.3f\n", codec.CompressionRatio(report.Count))
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "-", "input samples, raw float32 LE unless --json (- for stdin)")
	cmd.Flags().BoolVar(&jsonIn, "json", false, "read samples as a JSON number array")
	return cmd
}

func readSamples(cmd *cobra.Command, path string, jsonIn bool) ([]float32, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	if !jsonIn {
		return codec.Float32sFromBytes(data)
	}
	var samples []float32
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse JSON samples: %w", err)
	}
	return samples, nil
}

// maxMagnitude scales the float32 output rounding slack used by stats.
func maxMagnitude(samples []float32) float32 {
	var m float32
	for _, v := range samples {
		if v < 0 {
			v = -v
		}
		m = max(m, v)
	}
	return m
}
