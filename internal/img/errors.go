package img

import "fmt"

// DecodeError reports input bytes that are not a supported raster image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a codec fault. It is not a step of the quality search.
type EncodeError struct {
	Quality int
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode at quality %d: %v", e.Quality, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
