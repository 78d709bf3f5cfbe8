package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// MaxEvents caps the events returned by Reader.Events.
const MaxEvents = 10

// Reader performs the read-only cluster operations. Each method returns a
// populated result even on failure, alongside the error, so callers may
// either branch on the error or serialise the result as-is.
type Reader struct {
	clients Clients
}

// NewReader returns a Reader backed by clients.
func NewReader(clients Clients) *Reader {
	return &Reader{clients: clients}
}

func (r *Reader) kube() (kubernetes.Interface, error) {
	cs, err := r.clients.Kube()
	if err != nil {
		return nil, diagnoseClientError(err)
	}
	return cs, nil
}

// ClusterHealth lists the node names, confirming the API server answers.
func (r *Reader) ClusterHealth(ctx context.Context) (ClusterHealthResult, error) {
	res := ClusterHealthResult{Nodes: []string{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	nodes, err := cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, n := range nodes.Items {
		res.Nodes = append(res.Nodes, n.Name)
	}
	res.Outcome = succeeded()
	return res, nil
}

// Pods lists pods in every namespace. CPU and memory usage are filled in
// when the metrics API answers; its absence is not an error.
func (r *Reader) Pods(ctx context.Context) (PodsResult, error) {
	res := PodsResult{Pods: []PodInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	podList, err := cs.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}

	usage := r.podUsage(ctx)
	res.MetricsAvailable = usage != nil
	for _, p := range podList.Items {
		info := PodInfo{
			Name:      p.Name,
			Namespace: p.Namespace,
			Status:    string(p.Status.Phase),
			Ready:     podReadyString(p.Status.ContainerStatuses),
			Restarts:  totalRestarts(p.Status.ContainerStatuses),
			Node:      p.Spec.NodeName,
			Age:       formatAge(p.CreationTimestamp.Time),
		}
		if u, ok := usage[p.Namespace+"/"+p.Name]; ok {
			info.CPUUsage = fmt.Sprintf("%dm", u.cpuMilli)
			info.MemoryUsage = fmt.Sprintf("%dMi", u.memoryBytes/(1024*1024))
		}
		res.Pods = append(res.Pods, info)
	}

	res.Count = len(res.Pods)
	res.Outcome = succeeded()
	if res.Count == 0 {
		res.Message = "No pods found."
	}
	return res, nil
}

type podUsage struct {
	cpuMilli    int64
	memoryBytes int64
}

// podUsage returns usage keyed by namespace/name, or nil when metrics are unavailable.
func (r *Reader) podUsage(ctx context.Context) map[string]podUsage {
	mc, err := r.clients.Metrics()
	if err != nil {
		slog.Debug("pod metrics unavailable", "err", err)
		return nil
	}
	list, err := mc.MetricsV1beta1().PodMetricses(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		slog.Debug("listing pod metrics failed", "err", err)
		return nil
	}

	out := make(map[string]podUsage, len(list.Items))
	for _, pm := range list.Items {
		var u podUsage
		for _, c := range pm.Containers {
			u.cpuMilli += c.Usage.Cpu().MilliValue()
			u.memoryBytes += c.Usage.Memory().Value()
		}
		out[pm.Namespace+"/"+pm.Name] = u
	}
	return out
}

// Services lists services in every namespace.
func (r *Reader) Services(ctx context.Context) (ServicesResult, error) {
	res := ServicesResult{Services: []ServiceInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	list, err := cs.CoreV1().Services(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, svc := range list.Items {
		res.Services = append(res.Services, ServiceInfo{
			Name:        svc.Name,
			Namespace:   svc.Namespace,
			Type:        string(svc.Spec.Type),
			ClusterIP:   svc.Spec.ClusterIP,
			ExternalIPs: externalAddresses(svc),
			Ports:       servicePorts(svc.Spec.Ports),
			Age:         formatAge(svc.CreationTimestamp.Time),
		})
	}
	res.Count = len(res.Services)
	res.Outcome = succeeded()
	return res, nil
}

// Deployments lists deployments in every namespace.
func (r *Reader) Deployments(ctx context.Context) (DeploymentsResult, error) {
	res := DeploymentsResult{Deployments: []DeploymentInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	list, err := cs.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, d := range list.Items {
		res.Deployments = append(res.Deployments, DeploymentInfo{
			Name:              d.Name,
			Namespace:         d.Namespace,
			Replicas:          replicasOf(d.Spec.Replicas),
			ReadyReplicas:     d.Status.ReadyReplicas,
			AvailableReplicas: d.Status.AvailableReplicas,
			Age:               formatAge(d.CreationTimestamp.Time),
		})
	}
	res.Count = len(res.Deployments)
	res.Outcome = succeeded()
	return res, nil
}

// Nodes lists nodes with readiness, roles and capacity.
func (r *Reader) Nodes(ctx context.Context) (NodesResult, error) {
	res := NodesResult{Nodes: []NodeInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	list, err := cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, n := range list.Items {
		info := NodeInfo{
			Name:           n.Name,
			Status:         nodeStatus(n.Status.Conditions, n.Spec.Unschedulable),
			Roles:          nodeRoles(n.Labels),
			KubeletVersion: n.Status.NodeInfo.KubeletVersion,
			CPUCapacity:    n.Status.Capacity.Cpu().String(),
			MemoryCapacity: n.Status.Capacity.Memory().String(),
			Age:            formatAge(n.CreationTimestamp.Time),
		}
		for _, addr := range n.Status.Addresses {
			if addr.Type == corev1.NodeInternalIP {
				info.InternalIP = addr.Address
			}
		}
		res.Nodes = append(res.Nodes, info)
	}
	res.Count = len(res.Nodes)
	res.Outcome = succeeded()
	return res, nil
}

// Endpoints lists endpoints in every namespace, ready and not-ready addresses alike.
func (r *Reader) Endpoints(ctx context.Context) (EndpointsResult, error) {
	res := EndpointsResult{Endpoints: []EndpointInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	list, err := cs.CoreV1().Endpoints(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, ep := range list.Items {
		info := EndpointInfo{
			Name:      ep.Name,
			Namespace: ep.Namespace,
			Addresses: []EndpointAddress{},
			Ports:     []EndpointPortInfo{},
		}
		for _, subset := range ep.Subsets {
			for _, addr := range subset.Addresses {
				info.Addresses = append(info.Addresses, endpointAddress(addr, true))
			}
			for _, addr := range subset.NotReadyAddresses {
				info.Addresses = append(info.Addresses, endpointAddress(addr, false))
			}
			for _, p := range subset.Ports {
				info.Ports = append(info.Ports, EndpointPortInfo{
					Name:     p.Name,
					Port:     p.Port,
					Protocol: string(p.Protocol),
				})
			}
		}
		res.Endpoints = append(res.Endpoints, info)
	}
	res.Count = len(res.Endpoints)
	res.Outcome = succeeded()
	return res, nil
}

func endpointAddress(addr corev1.EndpointAddress, ready bool) EndpointAddress {
	ea := EndpointAddress{IP: addr.IP, Ready: ready}
	if addr.NodeName != nil {
		ea.NodeName = *addr.NodeName
	}
	if addr.TargetRef != nil && addr.TargetRef.Kind == "Pod" {
		ea.PodName = addr.TargetRef.Name
	}
	return ea
}

// Events returns the MaxEvents most recent events, newest first. An empty
// namespace means all namespaces; eventType filters on Normal or Warning.
func (r *Reader) Events(ctx context.Context, namespace, eventType string) (EventsResult, error) {
	res := EventsResult{Events: []EventInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	opts := metav1.ListOptions{}
	if eventType != "" {
		opts.FieldSelector = "type=" + eventType
	}
	list, err := cs.CoreV1().Events(namespace).List(ctx, opts)
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}

	items := list.Items
	sort.SliceStable(items, func(i, j int) bool {
		return eventTimestamp(items[j]).Before(eventTimestamp(items[i]))
	})
	for _, e := range items {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if len(res.Events) == MaxEvents {
			break
		}
		res.Events = append(res.Events, EventInfo{
			Namespace: e.Namespace,
			Type:      e.Type,
			Reason:    e.Reason,
			Message:   e.Message,
			Object:    e.InvolvedObject.Kind + "/" + e.InvolvedObject.Name,
			Count:     e.Count,
			LastSeen:  formatEventTime(eventTimestamp(e)),
		})
	}
	res.Count = len(res.Events)
	res.Outcome = succeeded()
	return res, nil
}

// Namespaces lists namespaces with their phase.
func (r *Reader) Namespaces(ctx context.Context) (NamespacesResult, error) {
	res := NamespacesResult{Namespaces: []NamespaceInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	list, err := cs.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, ns := range list.Items {
		res.Namespaces = append(res.Namespaces, NamespaceInfo{
			Name:   ns.Name,
			Status: string(ns.Status.Phase),
			Age:    formatAge(ns.CreationTimestamp.Time),
		})
	}
	res.Count = len(res.Namespaces)
	res.Outcome = succeeded()
	return res, nil
}
