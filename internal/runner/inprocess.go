package runner

import (
	"io"
	"log"

	"turnforge.ai/internal/agent"
	"turnforge.ai/internal/engine"
)

// InProcessReferee runs an engine-backed referee on pipes inside this process.
// The engine logs to the referee's stderr, which ends up in the result.
func InProcessReferee(newReferee func() engine.Referee, modules ...func() engine.Module) agent.Factory {
	return inProcess(false, newReferee, modules)
}

// InProcessSoloReferee is InProcessReferee for a single-player game fed by
// Config.TestCase.
func InProcessSoloReferee(newReferee func() engine.Referee, modules ...func() engine.Module) agent.Factory {
	return inProcess(true, newReferee, modules)
}

func inProcess(solo bool, newReferee func() engine.Referee, modules []func() engine.Module) agent.Factory {
	return agent.Func(func(stdin io.Reader, stdout, stderr io.Writer) error {
		e := engine.New(newReferee(), engine.Options{
			Logger: log.New(stderr, "[referee] ", log.LstdFlags|log.Lmicroseconds),
			Solo:   solo,
		})
		for _, m := range modules {
			if err := e.Register(m()); err != nil {
				return err
			}
		}
		return e.Run(stdin, stdout)
	})
}
