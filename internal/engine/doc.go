// Package engine provides the speech-to-text backends behind the model registry.
// A Loader turns a resolved model reference into a Model handle, and a Model
// transcribes audio files into a validated Output.
package engine
