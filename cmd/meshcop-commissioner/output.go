package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/thread-tools/meshcop-go/pkg/log"
	"github.com/thread-tools/meshcop-go/pkg/meshcop"
)

// renderDataset prints the retrieved credentials. This is the one place
// key material is intentionally shown: handing these values to the
// joining device is the point of the exercise.
func renderDataset(ds *meshcop.Dataset) {
	rows := pterm.TableData{{"Field", "Value"}}

	if ds.NetworkName != nil {
		rows = append(rows, []string{"Network Name", *ds.NetworkName})
	}
	if ds.Channel != nil {
		rows = append(rows, []string{"Channel", fmt.Sprintf("page %d, channel %d", ds.Channel.Page, ds.Channel.ID)})
	}
	if ds.PANID != nil {
		rows = append(rows, []string{"PAN ID", fmt.Sprintf("0x%04X", *ds.PANID)})
	}
	if ds.ExtendedPANID != nil {
		rows = append(rows, []string{"Extended PAN ID", fmt.Sprintf("%X", ds.ExtendedPANID)})
	}
	if ds.NetworkKey != nil {
		rows = append(rows, []string{"Network Key", fmt.Sprintf("%X", ds.NetworkKey)})
	}
	if ds.PSKC != nil {
		rows = append(rows, []string{"PSKc", fmt.Sprintf("%X", ds.PSKC)})
	}
	if ds.MeshLocalPrefix != nil {
		rows = append(rows, []string{"Mesh-Local Prefix", fmt.Sprintf("%X/64", ds.MeshLocalPrefix)})
	}
	if ds.ActiveTimestamp != nil {
		rows = append(rows, []string{"Active Timestamp",
			fmt.Sprintf("%d.%d", ds.ActiveTimestamp.Seconds, ds.ActiveTimestamp.Ticks)})
	}
	if ds.SecurityPolicy != nil {
		rows = append(rows, []string{"Security Policy",
			fmt.Sprintf("rotation %dh, flags 0x%04X", ds.SecurityPolicy.RotationHours, ds.SecurityPolicy.Flags)})
	}
	if ds.ChannelMask != nil {
		masks := make([]string, len(ds.ChannelMask.Masks))
		for i, m := range ds.ChannelMask.Masks {
			masks[i] = fmt.Sprintf("0x%08X", m)
		}
		rows = append(rows, []string{"Channel Mask",
			fmt.Sprintf("page %d: %s", ds.ChannelMask.Page, strings.Join(masks, " "))})
	}

	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// dumpEvents prints a protocol event log written with -event-log.
func dumpEvents(path string) error {
	if path == "" {
		return fmt.Errorf("usage: meshcop-commissioner events <file.clog>")
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		printEvent(event)
	}
}

// printEvent renders one event as a single line.
func printEvent(e log.Event) {
	prefix := fmt.Sprintf("%s %-3s %-12s",
		e.Timestamp.Format("15:04:05.000"), e.Direction, e.Layer)

	switch {
	case e.Record != nil:
		fmt.Printf("%s record %d bytes (epoch %d)\n", prefix, e.Record.Size, e.Record.Epoch)
	case e.Handshake != nil:
		fmt.Printf("%s handshake %s (step %d)\n", prefix, e.Handshake.Step, e.Handshake.Iteration)
	case e.Message != nil:
		path := ""
		if e.Message.Path != "" {
			path = " /" + e.Message.Path
		}
		fmt.Printf("%s %s %s id=%d%s payload=%dB\n", prefix,
			e.Message.Type, e.Message.Code, e.Message.MessageID, path, e.Message.PayloadSize)
	case e.StateChange != nil:
		fmt.Printf("%s %s: %s -> %s %s\n", prefix, e.StateChange.Entity,
			e.StateChange.OldState, e.StateChange.NewState, e.StateChange.Reason)
	case e.Error != nil:
		fmt.Printf("%s error: %s (%s)\n", prefix, e.Error.Message, e.Error.Context)
	default:
		fmt.Println(prefix)
	}
}
