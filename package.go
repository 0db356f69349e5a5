// Comfyhistory is a history toolkit for ComfyUI. It persists generation
// prompts and workflows to disk, embeds them into PNG metadata and reads them
// back out, serves the saved history over HTTP, and ships a companion CLI
// that resubmits a workflow stored in a PNG to a running ComfyUI instance
// with a new text prompt and seed.
package comfyhistory
