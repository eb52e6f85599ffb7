package directory

import (
	"github.com/morezero/meshrt/pkg/anyvalue"
	"github.com/morezero/meshrt/pkg/future"
	"github.com/morezero/meshrt/pkg/object"
	"github.com/morezero/meshrt/pkg/signalhub"
	"github.com/morezero/meshrt/pkg/wire"
)

// Fixed method/signal ids for the ServiceDirectory, per spec.md §6: "occupy
// fixed ids in that order starting at 100."
const (
	MethodService uint32 = 100 + iota
	MethodServices
	MethodRegisterService
	MethodUnregisterService
	MethodServiceReady
	MethodUpdateServiceInfo
	MethodMachineID
	SignalServiceAdded
	SignalServiceRemoved
)

// serviceInfoSignature encodes wire.ServiceInfo as a tuple: name,
// service id, machine id, process id, session id, endpoints.
const serviceInfoSignature = "(sIsis[s])"

// ObjectImpl adapts a Directory into an object.ObjectImpl, so an
// object.Host can serve it at the fixed (service 1, object 1) address
// spec.md §6 reserves for the ServiceDirectory.
type ObjectImpl struct {
	dir *Directory
}

// NewObjectImpl wraps dir for hosting.
func NewObjectImpl(dir *Directory) *ObjectImpl {
	return &ObjectImpl{dir: dir}
}

func encodeServiceInfo(info wire.ServiceInfo) anyvalue.Value {
	endpoints := make([]anyvalue.Value, len(info.Endpoints))
	for i, ep := range info.Endpoints {
		endpoints[i] = anyvalue.NewString(ep)
	}
	return anyvalue.NewTuple(
		anyvalue.NewString(info.Name),
		anyvalue.NewInt(int64(info.ServiceID), 32, false),
		anyvalue.NewString(info.MachineID),
		anyvalue.NewInt(int64(info.ProcessID), 32, true),
		anyvalue.NewString(info.SessionID),
		anyvalue.NewList(endpoints...),
	)
}

func decodeServiceInfo(v anyvalue.Value) wire.ServiceInfo {
	endpoints := make([]string, len(v.Items[5].Items))
	for i, ep := range v.Items[5].Items {
		endpoints[i] = ep.StringVal
	}
	return wire.ServiceInfo{
		Name:      v.Items[0].StringVal,
		ServiceID: uint32(v.Items[1].IntVal),
		MachineID: v.Items[2].StringVal,
		ProcessID: int(v.Items[3].IntVal),
		SessionID: v.Items[4].StringVal,
		Endpoints: endpoints,
	}
}

func (o *ObjectImpl) Methods() map[uint32]object.MethodDef {
	return map[uint32]object.MethodDef{
		MethodService: {
			Params: "s", Return: serviceInfoSignature,
			Handler: func(cc object.CallContext, args []anyvalue.Value) object.Result {
				info, err := o.dir.Service(args[0].StringVal)
				if err != nil {
					return object.Immediate(future.Failed[anyvalue.Value](err))
				}
				return object.Immediate(future.Resolved(encodeServiceInfo(info)))
			},
		},
		MethodServices: {
			Params: "v", Return: "[" + serviceInfoSignature + "]",
			Handler: func(cc object.CallContext, args []anyvalue.Value) object.Result {
				infos := o.dir.Services()
				items := make([]anyvalue.Value, len(infos))
				for i, info := range infos {
					items[i] = encodeServiceInfo(info)
				}
				return object.Immediate(future.Resolved(anyvalue.NewList(items...)))
			},
		},
		MethodRegisterService: {
			Params: serviceInfoSignature, Return: "I",
			Handler: func(cc object.CallContext, args []anyvalue.Value) object.Result {
				id, err := o.dir.RegisterService(decodeServiceInfo(args[0]), cc.Socket)
				if err != nil {
					return object.Immediate(future.Failed[anyvalue.Value](err))
				}
				return object.Immediate(future.Resolved(anyvalue.NewInt(int64(id), 32, false)))
			},
		},
		MethodUnregisterService: {
			Params: "I", Return: "v",
			Handler: func(cc object.CallContext, args []anyvalue.Value) object.Result {
				if err := o.dir.UnregisterService(uint32(args[0].IntVal)); err != nil {
					return object.Immediate(future.Failed[anyvalue.Value](err))
				}
				return object.Immediate(future.Resolved(anyvalue.Void))
			},
		},
		MethodServiceReady: {
			Params: "I", Return: "v",
			Handler: func(cc object.CallContext, args []anyvalue.Value) object.Result {
				if err := o.dir.ServiceReady(uint32(args[0].IntVal)); err != nil {
					return object.Immediate(future.Failed[anyvalue.Value](err))
				}
				return object.Immediate(future.Resolved(anyvalue.Void))
			},
		},
		MethodUpdateServiceInfo: {
			Params: serviceInfoSignature, Return: "v",
			Handler: func(cc object.CallContext, args []anyvalue.Value) object.Result {
				if err := o.dir.UpdateServiceInfo(decodeServiceInfo(args[0])); err != nil {
					return object.Immediate(future.Failed[anyvalue.Value](err))
				}
				return object.Immediate(future.Resolved(anyvalue.Void))
			},
		},
		MethodMachineID: {
			Params: "v", Return: "s",
			Handler: func(cc object.CallContext, args []anyvalue.Value) object.Result {
				return object.Immediate(future.Resolved(anyvalue.NewString(o.dir.MachineID())))
			},
		},
	}
}

func (o *ObjectImpl) Signals() map[uint32]*signalhub.Hub {
	return map[uint32]*signalhub.Hub{
		SignalServiceAdded:   o.dir.Added(),
		SignalServiceRemoved: o.dir.Removed(),
	}
}

func (o *ObjectImpl) Properties() map[uint32]object.PropertyDef { return nil }
