//go:build gofuzz
// +build gofuzz

package server

import (
	"bytes"

	"github.com/cbeuw/connutil"
)

// Fuzz feeds data to one EchoProtocol run and checks the echo against the first frame in data
func Fuzz(data []byte) int {
	local, remote := connutil.AsyncPipe()
	defer local.Close()
	retChan := make(chan Outcome)
	go func() {
		retChan <- MakeEchoProtocol(remote, EchoConfig{MaxFrameSize: 4096}).Run()
	}()

	local.Write(data)
	end := bytes.IndexByte(data, Sentinel)
	if end == -1 {
		local.Close()
	}
	ret := <-retChan
	remote.Close()

	switch ret.Kind {
	case Completed:
		want := data
		if end != -1 {
			want = data[:end+1]
		}
		if !bytes.Equal(ret.Frame, want) {
			panic("echoed frame differs from the first frame sent")
		}
		return 1
	case GracefullyClosed:
		if len(data) != 0 {
			panic("bytes were sent but the peer was treated as gone")
		}
	}
	return 0
}
