// Package service contains the application-specific use cases and business
// logic. It orchestrates interactions between domain objects and repositories
// (defined in internal/store) to fulfill application features.
//
// The service package implements the application layer: it coordinates the
// flow of data between the delivery mechanisms (HTTP API, background jobs)
// and the domain layer, abstracting away infrastructure details while
// orchestrating domain entities through the task lifecycle.
//
// Key components:
//
// 1. TaskService:
//   - The user-action surface for image generation tasks: create, submit,
//     cancel, retry, inspect
//   - RefreshTaskStatus, the row-locked aggregation the generation pipeline
//     uses to converge a task's status from its subtask statuses
//
// 2. Repository Interfaces:
//   - Service-side views of the store interfaces (TaskRepository,
//     SubTaskRepository, JobRepository) so the service never depends on a
//     specific store implementation
//   - Adapters in this package bridge store implementations to these
//     interfaces
//
// 3. Transactional Boundaries:
//   - Actions that touch a task together with its subtasks or jobs (cancel,
//     retry, status refresh) run in a single database transaction with the
//     task row locked, so concurrent lifecycle updates cannot interleave
//
// 4. Error Handling:
//   - Expected rejections are package-level sentinel errors the API layer
//     maps to HTTP status codes
//   - Unexpected failures are wrapped in TaskServiceError with the failing
//     operation for context
package service
