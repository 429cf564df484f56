package credential

import (
	"encoding/base64"
	"fmt"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

// QRRenderer turns an encoded credential into a PNG data URL that the guest
// frontend can show directly.
type QRRenderer struct {
	Size       int
	Foreground color.Color
	Background color.Color
}

// NewQRRenderer returns a renderer with the invitation colours.
func NewQRRenderer() *QRRenderer {
	return &QRRenderer{
		Size:       300,
		Foreground: color.RGBA{R: 0x1E, G: 0x40, B: 0xAF, A: 0xFF},
		Background: color.White,
	}
}

// DataURL renders blob as a QR code PNG and returns it as a data URL.
func (r *QRRenderer) DataURL(blob string) (string, error) {
	q, err := qrcode.New(blob, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}
	q.ForegroundColor = r.Foreground
	q.BackgroundColor = r.Background

	png, err := q.PNG(r.Size)
	if err != nil {
		return "", fmt.Errorf("qr png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
