package videocore

// materializeRaw flattens a (possibly chunked, possibly cropped) Bitmap into
// one contiguous buffer in the codec's expected stream stride, following the
// push_raw_frame/line_copy split from SPICE's gstreamer encoder.
//
// Two paths:
//   - stream_stride == bitmap.Stride: the crop covers full rows, so whole
//     chunks can be copied as-is (chunkCopy).
//   - otherwise: each output row straddles a sub-range of the source stride,
//     so rows are copied one at a time (lineCopy).
//
// needsBitmap, SPICE's zero-copy lifecycle flag, has no analogue here: Go's
// GC already keeps the source bitmap alive for as long
// as any chunkCopy result references it, and codec.go never holds onto a
// Bitmap past a single EncodeFrame call, so there is nothing to assert.
func materializeRaw(b Bitmap, crop Rect, topDown bool, bpp int) ([]byte, error) {
	if !crop.validFor(b) {
		return nil, ErrInvalidCrop
	}

	height := crop.height()
	streamStride := crop.width() * bpp / 8
	out := make([]byte, streamStride*height)

	skipLines := crop.Top
	if !topDown {
		skipLines = b.Height - crop.Bottom
	}
	chunkOffset := b.Stride*skipLines + crop.Left*bpp/8

	if streamStride != b.Stride {
		if err := lineCopy(b, chunkOffset, streamStride, height, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	if err := chunkCopy(b, chunkOffset, out); err != nil {
		return nil, err
	}
	return out, nil
}

// lineCopy copies height rows of streamStride bytes each out of the
// (possibly multi-chunk) source, advancing by the source's native stride
// between rows. A chunk whose length isn't a whole multiple of the source
// stride can't be walked a row at a time, so it is rejected outright rather
// than guessed at.
func lineCopy(b Bitmap, chunkOffset, streamStride, height int, dst []byte) error {
	chunkIndex := 0
	pos := 0

	for l := 0; l < height; l++ {
		for chunkIndex < len(b.Chunks) && chunkOffset >= len(b.Chunks[chunkIndex].Data) {
			if len(b.Chunks[chunkIndex].Data)%b.Stride != 0 {
				return ErrUnsupported
			}
			chunkOffset -= len(b.Chunks[chunkIndex].Data)
			chunkIndex++
		}
		if chunkIndex >= len(b.Chunks) {
			return ErrUnsupported
		}

		src := b.Chunks[chunkIndex].Data
		if chunkOffset+streamStride > len(src) {
			return ErrUnsupported
		}
		copy(dst[pos:pos+streamStride], src[chunkOffset:chunkOffset+streamStride])
		pos += streamStride
		chunkOffset += b.Stride
	}
	return nil
}

// chunkCopy is used when the crop spans whole rows of the source stride, so
// entire chunks (minus the skipped prefix) can be appended verbatim.
func chunkCopy(b Bitmap, chunkOffset int, dst []byte) error {
	chunkIndex := 0
	remaining := len(dst)
	pos := 0

	for chunkIndex < len(b.Chunks) && chunkOffset >= len(b.Chunks[chunkIndex].Data) {
		if len(b.Chunks[chunkIndex].Data)%b.Stride != 0 {
			return ErrUnsupported
		}
		chunkOffset -= len(b.Chunks[chunkIndex].Data)
		chunkIndex++
	}

	for remaining > 0 && chunkIndex < len(b.Chunks) {
		chunk := b.Chunks[chunkIndex].Data
		if len(chunk)%b.Stride != 0 {
			return ErrUnsupported
		}
		avail := len(chunk) - chunkOffset
		take := avail
		if take > remaining {
			take = remaining
		}
		copy(dst[pos:pos+take], chunk[chunkOffset:chunkOffset+take])
		pos += take
		remaining -= take
		chunkOffset = 0
		chunkIndex++
	}

	if remaining > 0 {
		return ErrUnsupported
	}
	return nil
}
