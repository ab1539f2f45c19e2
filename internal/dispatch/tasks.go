// Package dispatch runs booking side effects in the background: one asynq
// task per effect so each retries on its own schedule without re-running
// the others.
package dispatch

import (
	"encoding/json"

	"clinicvoice_backend/internal/booking"
	"clinicvoice_backend/internal/summarize"

	"github.com/hibiken/asynq"
)

const TaskSMSConfirmation = "booking.sms_confirmation"

const TaskEmailConfirmation = "booking.email_confirmation"

const TaskCalendarSync = "booking.calendar_sync"

const TaskLeadAlert = "booking.lead_alert"

const TaskCallSummarize = "call.summarize"

// SideEffectPayload is shared by all four task types; the task type alone
// decides which effect runs.
type SideEffectPayload struct {
	booking.SideEffectJob
}

func newSideEffectTask(taskType string, job booking.SideEffectJob) (*asynq.Task, error) {
	data, err := json.Marshal(SideEffectPayload{SideEffectJob: job})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func ParseSideEffectPayload(task *asynq.Task) (SideEffectPayload, error) {
	var payload SideEffectPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SideEffectPayload{}, err
	}
	return payload, nil
}

func NewSMSConfirmationTask(job booking.SideEffectJob) (*asynq.Task, error) {
	return newSideEffectTask(TaskSMSConfirmation, job)
}

func NewEmailConfirmationTask(job booking.SideEffectJob) (*asynq.Task, error) {
	return newSideEffectTask(TaskEmailConfirmation, job)
}

func NewCalendarSyncTask(job booking.SideEffectJob) (*asynq.Task, error) {
	return newSideEffectTask(TaskCalendarSync, job)
}

func NewLeadAlertTask(job booking.SideEffectJob) (*asynq.Task, error) {
	return newSideEffectTask(TaskLeadAlert, job)
}

func NewCallSummarizeTask(job summarize.Job) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCallSummarize, data), nil
}

func ParseCallSummarizePayload(task *asynq.Task) (summarize.Job, error) {
	var job summarize.Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return summarize.Job{}, err
	}
	return job, nil
}
