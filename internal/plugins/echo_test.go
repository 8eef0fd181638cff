package plugins

import (
	"testing"
)

// TestEcho_Command tests #echo
func TestEcho_Command(t *testing.T) {
	c := newChat(t, nil)

	c.expect("g1", "alice",
		[2]string{"#echo hello there", "hello there"},
		[2]string{"#echo", "nothing to echo"},
	)
}

// TestEcho_Repeat tests joining a line said three times, once
func TestEcho_Repeat(t *testing.T) {
	c := newChat(t, nil)

	c.expect("g1", "alice",
		[2]string{"nice", ""},
		[2]string{"nice", ""},
		[2]string{"nice", "nice"},
		[2]string{"nice", ""},
		[2]string{"other", ""},
		[2]string{"nice", ""},
	)

	// commands do not count as lines
	c.expect("g2", "alice",
		[2]string{"wow", ""},
		[2]string{"#balance", "no check-ins yet"},
		[2]string{"wow", ""},
		[2]string{"wow", "wow"},
	)
}
