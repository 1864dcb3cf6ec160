package client

import (
	"encoding/json"

	"github.com/mbocsi/cloudhw/proto"
)

// Handlers is the set of optional callbacks a Client reports to. A nil
// handler means the event is dropped, except that Result frames without
// result fields are always reported through OnError.
//
// Handlers run on the transport's read goroutine (frames) or the connect
// goroutine (OnConnected); they should not block for long.
type Handlers struct {
	OnResult                  func(frame proto.ResultFrame)
	OnEcho                    func(message json.RawMessage)
	OnQuestion                func(message json.RawMessage)
	OnConfigurationDownloaded func()
	OnError                   func(err error)
	OnConnected               func(info ConnectionInfo)
}
