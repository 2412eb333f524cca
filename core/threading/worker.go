package threading

import (
	"github.com/world-in-progress/canopy/core/logger"
)

type Worker struct {
	ID string
}

// NewWorker starts a goroutine that runs firstTask (if any) and then drains taskChan until it is closed.
func NewWorker(workerID string, taskChan <-chan ITask, firstTask ITask) *Worker {

	w := &Worker{
		ID: workerID,
	}

	GoSafe(func() {
		if firstTask != nil {
			w.run(firstTask)
			firstTask = nil // cut off reference
		}

		for task := range taskChan {
			w.run(task)
		}
	})
	return w
}

func (w *Worker) run(task ITask) {
	if task.IsIgnoreable() {
		logger.Debug("task (ID: %s) has been canceled or done, worker %s skips it", task.GetID(), w.ID)
		return
	}
	// A panicking task must not take the worker down with it.
	RunSafe(func() {
		if err := task.Process(); err != nil {
			logger.Debug("task (ID: %s) on worker %s finished with error: %v", task.GetID(), w.ID, err)
		}
	})
	task.Complete()
}
