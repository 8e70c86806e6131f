// Package models implements the model registry: discovery of standard and
// custom models, validation, lazy single-flight loading and transcription.
package models
