// Package ocr defines the contract for plugging OCR engines into text extraction.
// Pages without a text layer are rasterised and handed to an Engine, which returns
// word boxes in image pixels.
package ocr
