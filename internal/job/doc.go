// Package job manages background job queuing, processing, and lifecycle.
// It provides mechanisms for asynchronous execution of long-running operations
// like prompt expansion and image generation, ensuring they don't block HTTP
// request handling and can recover from application restarts. Jobs are
// persisted rows claimed by a worker pool; handlers registered per job type
// carry out the work and decide, through the error taxonomy, whether a
// failure retries with backoff or fails fast.
package job
