// Package extract expands stored archives into the upload directory.
//
// An Executor runs one Extractor against an archive and removes the archive
// only when extraction succeeded. Two extractors exist: ZipExtractor decodes
// in-process and enforces entry-count and decompressed-size ceilings, while
// CommandExtractor shells out to an unzip binary with discrete arguments.
package extract
