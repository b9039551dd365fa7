package main

import "fmt"
import "io"
import "strconv"

import "github.com/dustin/go-humanize"
import "github.com/pterm/pterm"
import "github.com/spf13/cobra"

import "github.com/neurlang/ablation/device"

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the devices ablate can run on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices(cmd.OutOrStdout())
		},
	}
}

func listDevices(w io.Writer) error {
	infos := []device.Info{device.HostInfo()}
	gpus, err := device.CUDAInfo()
	if err != nil {
		return err
	}
	infos = append(infos, gpus...)

	data := pterm.TableData{{"Device", "Name", "Cores", "Memory", "SIMD"}}
	for _, info := range infos {
		cores := "-"
		if info.LogicalCores > 0 {
			cores = fmt.Sprintf("%d/%d", info.PhysicalCores, info.LogicalCores)
		}
		mem := "-"
		if info.Memory > 0 {
			mem = humanize.IBytes(uint64(info.Memory))
		}
		data = append(data, []string{info.Device.String(), info.Name, cores, mem, info.SIMD})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, table)
	fmt.Fprintln(w, "host threads: "+strconv.Itoa(device.HostThreads()))
	return nil
}
