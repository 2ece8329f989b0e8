package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/quantfall/backcast/internal/market"
)

// wireBar is the compact serialized form of a bar. Times are UTC millisecond
// integers so the encoding round-trips exactly regardless of host timezone.
type wireBar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V int64   `json:"v"`
}

type wireFrame struct {
	Ticker string    `json:"ticker"`
	Bars   []wireBar `json:"bars"`
}

// EncodeFrame serializes a frame to gzip-compressed JSON.
func EncodeFrame(frame *market.Frame) ([]byte, error) {
	wf := wireFrame{Ticker: frame.Ticker, Bars: make([]wireBar, len(frame.Bars))}
	for i, b := range frame.Bars {
		wf.Bars[i] = wireBar{
			T: b.Time.UTC().UnixMilli(),
			O: b.Open, H: b.High, L: b.Low, C: b.Close, V: b.Volume,
		}
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(wf); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame reverses EncodeFrame. Decoded bar times are UTC.
func DecodeFrame(data []byte) (*market.Frame, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	var wf wireFrame
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	frame := &market.Frame{Ticker: wf.Ticker, Bars: make([]market.Bar, len(wf.Bars))}
	for i, b := range wf.Bars {
		frame.Bars[i] = market.Bar{
			Time: time.UnixMilli(b.T).UTC(),
			Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V,
		}
	}
	return frame, nil
}
