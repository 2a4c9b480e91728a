package stream

import (
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

var (
	placeholderOnce sync.Once
	placeholderJPEG []byte
)

// placeholder returns the "NO SIGNAL" JPEG served when a camera has no fresh
// frame. Built once and reused; viewers of a dead camera all get the same
// bytes.
func placeholder() []byte {
	placeholderOnce.Do(func() {
		m := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
		defer m.Close()
		gocv.PutText(&m, "NO SIGNAL", image.Pt(80, 120),
			gocv.FontHersheySimplex, 0.8, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 2)
		buf, err := gocv.IMEncode(".jpg", m)
		if err != nil {
			return
		}
		defer buf.Close()
		placeholderJPEG = make([]byte, len(buf.GetBytes()))
		copy(placeholderJPEG, buf.GetBytes())
	})
	return placeholderJPEG
}
