// Package widgetkit is the editing core behind a dashboard widget builder.
//
// A widget is a VisualizationConfig plus an ordered list of logic blocks.
// The predicate package compiles enabled blocks into conditions, the engine
// package aggregates rows into render-ready results for each chart family,
// and the synth package turns a plain-language request into a suggested
// config through a tool-using language model, degrading to a keyword
// fallback when no model is available or the run fails.
//
// The session package holds one editor's state with stale-result
// protection, and the server package exposes everything over HTTP.
// All aggregation is local; only the synthesizer calls out.
package widgetkit
