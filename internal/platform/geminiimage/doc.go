// Package geminiimage implements the provider adapter for Gemini image
// generation over its raw REST surface.
//
// The adapter posts to models/{model}:generateContent with the image
// generation tool enabled and returns inline image bytes, downloading file
// references when the API hands back a URI instead of payload data. Safety
// blocks are reported through finish reasons on successful responses, so
// the adapter's NormalizeError maps those to the content-filtered category
// before delegating to the shared normalizer.
package geminiimage
