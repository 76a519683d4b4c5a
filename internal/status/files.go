package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"waveguide/internal/model"
)

// FileSink writes the status directory layout:
//
//	<if>.scanned, <if>.sent, <if>.received   touched with a timestamp
//	<if>.nopackets                           present while a tick saw no packets
//	autochan.<if>                            recommended frequency
//	autochan.<if>.init                       present while that is a default
//	autodisable.<if>                         MAC of the peer forcing power-down
//	signals_json/self_signals.<if>.json      how we hear peers
//	signals_json/peer_signals.<if>.json      how peers hear us
type FileSink struct {
	dir string
	log zerolog.Logger
	now func() time.Time
}

func NewFileSink(dir string, log zerolog.Logger) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("status dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "signals_json"), 0o755); err != nil {
		return nil, err
	}
	return &FileSink{dir: dir, log: log, now: time.Now}, nil
}

func (f *FileSink) Dir() string {
	return f.dir
}

func (f *FileSink) Scanned(ifname string) {
	f.touch(ifname + ".scanned")
}

func (f *FileSink) Sent(ifname string) {
	f.touch(ifname + ".sent")
}

func (f *FileSink) Received(ifname string) {
	f.touch(ifname + ".received")
}

func (f *FileSink) Quiet(ifname string, quiet bool) {
	name := ifname + ".nopackets"
	if quiet {
		f.touch(name)
		return
	}
	f.remove(name)
}

func (f *FileSink) Dropped(string) {}

func (f *FileSink) AutoChannel(ifname string, freq int, initial bool) {
	f.write("autochan."+ifname, []byte(strconv.Itoa(freq)+"\n"))
	if initial {
		f.write("autochan."+ifname+".init", []byte(strconv.Itoa(freq)+"\n"))
		return
	}
	f.remove("autochan." + ifname + ".init")
}

func (f *FileSink) AutoDisable(ifname string, by *model.MAC) {
	name := "autodisable." + ifname
	if by == nil {
		f.remove(name)
		return
	}
	f.write(name, []byte(by.String()+"\n"))
}

func (f *FileSink) Signals(ifname string, self, peers Signals) {
	f.writeJSON(filepath.Join("signals_json", "self_signals."+ifname+".json"), self)
	f.writeJSON(filepath.Join("signals_json", "peer_signals."+ifname+".json"), peers)
}

func (f *FileSink) touch(name string) {
	f.write(name, []byte(strconv.FormatInt(f.now().Unix(), 10)+"\n"))
}

func (f *FileSink) writeJSON(name string, v Signals) {
	if v == nil {
		v = Signals{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		f.log.Warn().Err(err).Str("file", name).Msg("encode status json failed")
		return
	}
	f.write(name, data)
}

// write replaces name atomically so readers never see a partial file.
func (f *FileSink) write(name string, data []byte) {
	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		f.log.Warn().Err(err).Str("file", path).Msg("write status file failed")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		f.log.Warn().Err(err).Str("file", path).Msg("write status file failed")
	}
}

func (f *FileSink) remove(name string) {
	path := filepath.Join(f.dir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		f.log.Warn().Err(err).Str("file", path).Msg("remove status file failed")
	}
}
