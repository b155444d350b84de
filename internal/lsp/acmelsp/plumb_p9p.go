//go:build !plan9

package acmelsp

import (
	"io"

	"github.com/fhs/9fans-go/plan9"
	"github.com/fhs/9fans-go/plumb"
)

func plumbOpenSend() (io.WriteCloser, error) {
	return plumb.Open("send", plan9.OWRITE)
}
