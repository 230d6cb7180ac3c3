package pipeline

import "github.com/aluiziolira/go-scrape-products/models"

// Observer receives run events. Calls come from the pipeline's goroutines
// without its state lock held, so implementations may query the pipeline;
// they must not block for long.
type Observer interface {
	Progress(models.RunProgress)
	Status(message string)
	Finished(result *models.RunResult)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	OnProgress func(models.RunProgress)
	OnStatus   func(string)
	OnFinished func(*models.RunResult)
}

func (o ObserverFuncs) Progress(p models.RunProgress) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func (o ObserverFuncs) Status(message string) {
	if o.OnStatus != nil {
		o.OnStatus(message)
	}
}

func (o ObserverFuncs) Finished(result *models.RunResult) {
	if o.OnFinished != nil {
		o.OnFinished(result)
	}
}

// Observers fans every event out to each observer in order.
type Observers []Observer

func (obs Observers) Progress(p models.RunProgress) {
	for _, o := range obs {
		o.Progress(p)
	}
}

func (obs Observers) Status(message string) {
	for _, o := range obs {
		o.Status(message)
	}
}

func (obs Observers) Finished(result *models.RunResult) {
	for _, o := range obs {
		o.Finished(result)
	}
}
