package plugins

import (
	"github.com/keepmind9/statebot/internal/core"
)

// repeatTimes is how many identical lines in a row make echo join in
const repeatTimes = 3

// repeatState tracks the last line said in a conversation
type repeatState struct {
	last  string
	count int
	done  bool
}

// NewEcho builds the echo plugin. #echo repeats its argument; at the root
// state it also repeats any line said three times in a row, once.
func NewEcho(e *core.Engine) *core.Plugin {
	p := e.NewPlugin("echo").Intro("repeats after you")

	p.OnIdle().
		Command("echo").
		Help("<text> say text back").
		Handle(func(dc *core.DispatchContext) error {
			if len(dc.Arg) == 0 {
				dc.SendText("nothing to echo")
				return nil
			}
			dc.Send(dc.Arg)
			return nil
		})

	p.OnIdle().
		Text().
		NonBlocking().
		Cache("repeat", func() any { return &repeatState{} }).
		Handle(func(dc *core.DispatchContext) error {
			st := dc.CacheValue.(*repeatState)
			line := dc.Arg.String()
			if line != st.last {
				*st = repeatState{last: line, count: 1}
				return nil
			}
			st.count++
			if st.count >= repeatTimes && !st.done {
				st.done = true
				dc.Send(dc.Arg)
			}
			return nil
		})

	return p
}
