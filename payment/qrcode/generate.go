package qrcode

import (
	"encoding/base64"
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// PNG encodes a payment URI as a QR code image.
func PNG(uri string, size int) ([]byte, error) {
	if uri == "" {
		return nil, errors.New("qrcode: empty uri")
	}
	if size <= 0 {
		size = defaultSize
	}
	return qrcode.Encode(uri, qrcode.Medium, size)
}

// DataURI renders the QR code of uri as an inline image for the invoice.
func DataURI(uri string) (string, error) {
	png, err := PNG(uri, defaultSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
