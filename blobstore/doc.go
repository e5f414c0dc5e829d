// Package blobstore abstracts durable storage for saved index containers.
// Containers are written once and read sequentially, so the interface is
// stream-oriented: Put uploads a complete container, Get streams it back.
//
// Backends: local filesystem, in-memory (tests), S3 (blobstore/s3), and
// MinIO-compatible object storage (blobstore/minio).
package blobstore
