package qrcode

import (
	"encoding/base64"
	"errors"

	goqrcode "github.com/skip2/go-qrcode"
)

const (
	dataURLPrefix = "data:image/png;base64,"
	DefaultSize   = 256
)

// Generator renders verification links as PNG QR codes embedded in data
// URLs. The output depends only on the input text.
type Generator struct {
	size  int
	level goqrcode.RecoveryLevel
}

func NewGenerator(size int) *Generator {
	if size <= 0 {
		size = DefaultSize
	}
	return &Generator{size: size, level: goqrcode.Medium}
}

func (g *Generator) Encode(text string) (string, error) {
	if text == "" {
		return "", errors.New("qr content is required")
	}
	png, err := goqrcode.Encode(text, g.level, g.size)
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
