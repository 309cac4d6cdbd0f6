package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/schollz/progressbar/v3"
)

// progressHandler draws one progress bar per inbound transfer.
type progressHandler struct {
	out io.Writer

	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

var _ transport.InboundHandler = (*progressHandler)(nil)

func newProgressHandler(out io.Writer) *progressHandler {
	return &progressHandler{
		out:  out,
		bars: make(map[string]*progressbar.ProgressBar),
	}
}

func transferKey(info transport.TransferInfo) string {
	return info.RemoteAddr + "/" + info.Name
}

func (h *progressHandler) OnTransferStart(info transport.TransferInfo) {
	if info.Size == 0 {
		fmt.Fprintf(h.out, "%s from %s (empty)\n", info.Name, info.Sender)
		return
	}

	bar := progressbar.NewOptions64(info.Size,
		progressbar.OptionSetWriter(h.out),
		progressbar.OptionSetDescription(fmt.Sprintf("%s from %s", info.Name, info.Sender)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(h.out) }),
	)

	h.mu.Lock()
	h.bars[transferKey(info)] = bar
	h.mu.Unlock()
}

func (h *progressHandler) OnProgress(info transport.TransferInfo, received int64) {
	key := transferKey(info)

	h.mu.Lock()
	bar, ok := h.bars[key]
	if ok && received >= info.Size {
		delete(h.bars, key)
	}
	h.mu.Unlock()

	if ok {
		_ = bar.Set64(received)
	}
}

func (h *progressHandler) active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bars)
}
