package ocr

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Preprocess prepares a screenshot for OCR: grayscale, CLAHE on 8x8 tiles,
// a 3x3 sharpening kernel, then a Lanczos downscale when the longer side
// exceeds opts.MaxSide. It returns the processed image and the scale factor
// that was applied.
func Preprocess(img image.Image, opts Options) (gocv.Mat, float64, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), 0, fmt.Errorf("failed to convert image: %w", err)
	}
	defer src.Close()
	if src.Empty() {
		return gocv.NewMat(), 0, fmt.Errorf("empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	clahe := gocv.NewCLAHEWithParams(opts.ClipLimit, image.Point{8, 8})
	defer clahe.Close()
	enhanced := gocv.NewMat()
	defer enhanced.Close()
	clahe.Apply(gray, &enhanced)

	kernel := sharpenKernel()
	defer kernel.Close()
	sharp := gocv.NewMat()
	gocv.Filter2D(enhanced, &sharp, gocv.MatTypeCV8U, kernel, image.Point{-1, -1}, 0, gocv.BorderDefault)

	scale := ScaleFor(sharp.Cols(), sharp.Rows(), opts.MaxSide)
	if scale == 1 {
		return sharp, 1, nil
	}
	defer sharp.Close()
	resized := gocv.NewMat()
	size := image.Point{X: int(float64(sharp.Cols()) * scale), Y: int(float64(sharp.Rows()) * scale)}
	gocv.Resize(sharp, &resized, size, 0, 0, gocv.InterpolationLanczos4)
	return resized, scale, nil
}

// ScaleFor returns the factor that fits the longer side into maxSide, or 1
// when the image is already small enough.
func ScaleFor(w, h, maxSide int) float64 {
	longest := max(w, h)
	if maxSide <= 0 || longest <= maxSide {
		return 1
	}
	return float64(maxSide) / float64(longest)
}

func sharpenKernel() gocv.Mat {
	k := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			k.SetFloatAt(r, c, -1)
		}
	}
	k.SetFloatAt(1, 1, 9)
	return k
}
