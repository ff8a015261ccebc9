// Copyright 2022 Sogang University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package communicator

import (
	"context"

	"github.com/golang/protobuf/ptypes/empty"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InitRequest joins a worker to the process group.
type InitRequest struct {
	Rank      int64
	WorldSize int64
}

func (x *InitRequest) GetRank() int64 {
	if x != nil {
		return x.Rank
	}
	return 0
}

func (x *InitRequest) GetWorldSize() int64 {
	if x != nil {
		return x.WorldSize
	}
	return 0
}

// CollectiveRequest carries one worker's contribution to a collective.
type CollectiveRequest struct {
	Rank int64
	Op   Op
	Root int64
	Data []float64
}

func (x *CollectiveRequest) GetRank() int64 {
	if x != nil {
		return x.Rank
	}
	return 0
}

func (x *CollectiveRequest) GetOp() Op {
	if x != nil {
		return x.Op
	}
	return OpBarrier
}

func (x *CollectiveRequest) GetRoot() int64 {
	if x != nil {
		return x.Root
	}
	return 0
}

func (x *CollectiveRequest) GetData() []float64 {
	if x != nil {
		return x.Data
	}
	return nil
}

// CollectiveResponse carries the result of a collective.
type CollectiveResponse struct {
	Data []float64
}

func (x *CollectiveResponse) GetData() []float64 {
	if x != nil {
		return x.Data
	}
	return nil
}

// FinalizeRequest removes a worker from the process group.
type FinalizeRequest struct {
	Rank int64
}

func (x *FinalizeRequest) GetRank() int64 {
	if x != nil {
		return x.Rank
	}
	return 0
}

const (
	Communicator_Init_FullMethodName       = "/communicator.Communicator/Init"
	Communicator_Collective_FullMethodName = "/communicator.Communicator/Collective"
	Communicator_Finalize_FullMethodName   = "/communicator.Communicator/Finalize"
)

// CommunicatorClient is the client API for Communicator service.
type CommunicatorClient interface {
	Init(ctx context.Context, in *InitRequest, opts ...grpc.CallOption) (*empty.Empty, error)
	Collective(ctx context.Context, in *CollectiveRequest, opts ...grpc.CallOption) (*CollectiveResponse, error)
	Finalize(ctx context.Context, in *FinalizeRequest, opts ...grpc.CallOption) (*empty.Empty, error)
}

type communicatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCommunicatorClient creates a client of the Communicator service.  Calls
// are encoded with the package codec.
func NewCommunicatorClient(cc grpc.ClientConnInterface) CommunicatorClient {
	return &communicatorClient{cc}
}

func (c *communicatorClient) Init(ctx context.Context, in *InitRequest, opts ...grpc.CallOption) (*empty.Empty, error) {
	out := new(empty.Empty)
	err := c.cc.Invoke(ctx, Communicator_Init_FullMethodName, in, out, append(callOptions(), opts...)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *communicatorClient) Collective(ctx context.Context, in *CollectiveRequest, opts ...grpc.CallOption) (*CollectiveResponse, error) {
	out := new(CollectiveResponse)
	err := c.cc.Invoke(ctx, Communicator_Collective_FullMethodName, in, out, append(callOptions(), opts...)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *communicatorClient) Finalize(ctx context.Context, in *FinalizeRequest, opts ...grpc.CallOption) (*empty.Empty, error) {
	out := new(empty.Empty)
	err := c.cc.Invoke(ctx, Communicator_Finalize_FullMethodName, in, out, append(callOptions(), opts...)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CommunicatorServer is the server API for Communicator service.
// All implementations must embed UnimplementedCommunicatorServer
// for forward compatibility.
type CommunicatorServer interface {
	Init(context.Context, *InitRequest) (*empty.Empty, error)
	Collective(context.Context, *CollectiveRequest) (*CollectiveResponse, error)
	Finalize(context.Context, *FinalizeRequest) (*empty.Empty, error)
	mustEmbedUnimplementedCommunicatorServer()
}

// UnimplementedCommunicatorServer must be embedded to have forward compatible implementations.
type UnimplementedCommunicatorServer struct {
}

func (UnimplementedCommunicatorServer) Init(context.Context, *InitRequest) (*empty.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Init not implemented")
}
func (UnimplementedCommunicatorServer) Collective(context.Context, *CollectiveRequest) (*CollectiveResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Collective not implemented")
}
func (UnimplementedCommunicatorServer) Finalize(context.Context, *FinalizeRequest) (*empty.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Finalize not implemented")
}
func (UnimplementedCommunicatorServer) mustEmbedUnimplementedCommunicatorServer() {}

// RegisterCommunicatorServer registers srv on s.
func RegisterCommunicatorServer(s grpc.ServiceRegistrar, srv CommunicatorServer) {
	s.RegisterService(&Communicator_ServiceDesc, srv)
}

func _Communicator_Init_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommunicatorServer).Init(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Communicator_Init_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommunicatorServer).Init(ctx, req.(*InitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Communicator_Collective_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CollectiveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommunicatorServer).Collective(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Communicator_Collective_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommunicatorServer).Collective(ctx, req.(*CollectiveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Communicator_Finalize_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FinalizeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommunicatorServer).Finalize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Communicator_Finalize_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommunicatorServer).Finalize(ctx, req.(*FinalizeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Communicator_ServiceDesc is the grpc.ServiceDesc for Communicator service.
var Communicator_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "communicator.Communicator",
	HandlerType: (*CommunicatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Init",
			Handler:    _Communicator_Init_Handler,
		},
		{
			MethodName: "Collective",
			Handler:    _Communicator_Collective_Handler,
		},
		{
			MethodName: "Finalize",
			Handler:    _Communicator_Finalize_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "communicator.proto",
}
