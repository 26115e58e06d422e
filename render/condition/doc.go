// Package condition normalizes captured views to a provider's aspect-ratio and
// pixel-count envelope before upload.
//
// Corrections run in a fixed order: a centered crop to the nearest aspect
// bound, then a uniform CatmullRom downscale to the pixel budget. Output is
// written next to the source as <name>_corrected<ext>; the source itself is
// never touched.
package condition
