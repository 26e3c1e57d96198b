package driver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/baylabs/bay/pkg/log"
)

// KubeDriver runs sandbox containers as pods in a Kubernetes namespace.
// Cargo volumes map to PersistentVolumeClaims and endpoints use pod IPs,
// which are routable inside the cluster. Session networks are a no-op
// because the pod network is flat.
type KubeDriver struct {
	clientset    kubernetes.Interface
	namespace    string
	storageClass string
	logger       zerolog.Logger
}

// NewKubeDriver builds a driver from in-cluster config, falling back to the
// given kubeconfig path.
func NewKubeDriver(namespace, kubeconfig, storageClass string) (*KubeDriver, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, NewError("connect", false,
				fmt.Errorf("failed to build config from kubeconfig: %w", err))
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, NewError("connect", false, err)
	}

	return NewKubeDriverWithClient(clientset, namespace, storageClass), nil
}

// NewKubeDriverWithClient wraps an existing clientset, used by tests with
// the fake clientset.
func NewKubeDriverWithClient(clientset kubernetes.Interface, namespace, storageClass string) *KubeDriver {
	return &KubeDriver{
		clientset:    clientset,
		namespace:    namespace,
		storageClass: storageClass,
		logger:       log.WithComponent("driver.kube"),
	}
}

// CreateVolume creates a PVC; the handle is the claim name.
func (d *KubeDriver) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.Name,
			Labels: spec.Labels,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse("10Gi"),
				},
			},
		},
	}
	if d.storageClass != "" {
		pvc.Spec.StorageClassName = &d.storageClass
	}

	created, err := d.clientset.CoreV1().PersistentVolumeClaims(d.namespace).
		Create(ctx, pvc, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return spec.Name, nil
		}
		return "", NewError("pvc-create", true, err)
	}
	return created.Name, nil
}

// DestroyVolume deletes a PVC. Missing claims are not an error.
func (d *KubeDriver) DestroyVolume(ctx context.Context, handle string) error {
	err := d.clientset.CoreV1().PersistentVolumeClaims(d.namespace).
		Delete(ctx, handle, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return NewError("pvc-delete", true, err)
	}
	return nil
}

// CreateNetwork is a no-op; all pods share the cluster network. The session
// id itself serves as the handle so session containers can find each other
// by label.
func (d *KubeDriver) CreateNetwork(ctx context.Context, sessionID string) (string, error) {
	return sessionID, nil
}

// DestroyNetwork is a no-op on Kubernetes.
func (d *KubeDriver) DestroyNetwork(ctx context.Context, networkID string) error {
	return nil
}

// CreateContainer creates a pod with the cargo claim mounted. The pod starts
// scheduling immediately; StartContainer waits for it to get an address.
func (d *KubeDriver) CreateContainer(ctx context.Context, cfg *ContainerConfig) (string, error) {
	podLabels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		podLabels[k] = v
	}
	podLabels[labelRuntimePort] = strconv.Itoa(cfg.RuntimePort)

	env := make([]corev1.EnvVar, 0, len(cfg.Env))
	for _, kv := range cfg.Env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env = append(env, corev1.EnvVar{Name: kv[:i], Value: kv[i+1:]})
				break
			}
		}
	}

	ctr := corev1.Container{
		Name:  "runtime",
		Image: cfg.Image,
		Env:   env,
		Ports: []corev1.ContainerPort{{ContainerPort: int32(cfg.RuntimePort)}},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "cargo", MountPath: cfg.MountPath},
		},
	}
	if r := cfg.Resources; r != nil {
		limits := corev1.ResourceList{}
		if r.CPUs > 0 {
			limits[corev1.ResourceCPU] = *resource.NewMilliQuantity(int64(r.CPUs*1000), resource.DecimalSI)
		}
		if r.MemoryMB > 0 {
			limits[corev1.ResourceMemory] = *resource.NewQuantity(r.MemoryMB*1024*1024, resource.BinarySI)
		}
		ctr.Resources = corev1.ResourceRequirements{Limits: limits, Requests: limits}
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   cfg.Name,
			Labels: podLabels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers:    []corev1.Container{ctr},
			Volumes: []corev1.Volume{
				{
					Name: "cargo",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: cfg.VolumeHandle,
						},
					},
				},
			},
		},
	}

	created, err := d.clientset.CoreV1().Pods(d.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", NewError("pod-create", !apierrors.IsInvalid(err), err)
	}
	return created.Name, nil
}

// StartContainer waits for the pod to be running with an assigned IP and
// returns the runtime endpoint.
func (d *KubeDriver) StartContainer(ctx context.Context, containerID string) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		pod, err := d.clientset.CoreV1().Pods(d.namespace).Get(ctx, containerID, metav1.GetOptions{})
		if err != nil {
			return "", NewError("pod-get", true, err)
		}

		switch pod.Status.Phase {
		case corev1.PodRunning:
			if pod.Status.PodIP != "" {
				port := pod.Labels[labelRuntimePort]
				return fmt.Sprintf("http://%s:%s", pod.Status.PodIP, port), nil
			}
		case corev1.PodFailed, corev1.PodSucceeded:
			return "", NewError("pod-start", false,
				fmt.Errorf("pod %s terminated during startup: %s", containerID, pod.Status.Phase))
		}

		select {
		case <-ctx.Done():
			return "", NewError("pod-start", true, ctx.Err())
		case <-ticker.C:
		}
	}
}

// StopContainer deletes the pod; Kubernetes has no stopped-pod state, so
// stop and destroy coincide. Missing pods are not an error.
func (d *KubeDriver) StopContainer(ctx context.Context, containerID string) error {
	return d.DestroyContainer(ctx, containerID)
}

// DestroyContainer deletes the pod. Missing pods are not an error.
func (d *KubeDriver) DestroyContainer(ctx context.Context, containerID string) error {
	err := d.clientset.CoreV1().Pods(d.namespace).
		Delete(ctx, containerID, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return NewError("pod-delete", true, err)
	}
	return nil
}

// Status reports the pod's phase as a container state.
func (d *KubeDriver) Status(ctx context.Context, containerID string) (ContainerState, error) {
	pod, err := d.clientset.CoreV1().Pods(d.namespace).Get(ctx, containerID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return StateNotFound, nil
		}
		return StateUnknown, NewError("pod-get", true, err)
	}
	switch pod.Status.Phase {
	case corev1.PodRunning:
		return StateRunning, nil
	case corev1.PodFailed, corev1.PodSucceeded:
		return StateExited, nil
	default:
		return StateUnknown, nil
	}
}

// CreateMulti creates a group of pods, deleting everything already created
// if any creation fails.
func (d *KubeDriver) CreateMulti(ctx context.Context, cfgs []*ContainerConfig, networkID string) ([]string, error) {
	ids := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		id, err := d.CreateContainer(ctx, cfg)
		if err != nil {
			for _, created := range ids {
				if derr := d.DestroyContainer(context.WithoutCancel(ctx), created); derr != nil {
					d.logger.Warn().Err(derr).Str("pod", created).Msg("Rollback delete failed")
				}
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListLabeled returns pods matching the selector.
func (d *KubeDriver) ListLabeled(ctx context.Context, selector map[string]string) ([]LabeledContainer, error) {
	pods, err := d.clientset.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(selector).String(),
	})
	if err != nil {
		return nil, NewError("pod-list", true, err)
	}

	out := make([]LabeledContainer, 0, len(pods.Items))
	for _, pod := range pods.Items {
		state := StateUnknown
		switch pod.Status.Phase {
		case corev1.PodRunning:
			state = StateRunning
		case corev1.PodFailed, corev1.PodSucceeded:
			state = StateExited
		}
		out = append(out, LabeledContainer{ID: pod.Name, Labels: pod.Labels, State: state})
	}
	return out, nil
}

// Logs returns the tail of the pod's runtime container output.
func (d *KubeDriver) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	tailLines := int64(tail)
	req := d.clientset.CoreV1().Pods(d.namespace).GetLogs(containerID, &corev1.PodLogOptions{
		TailLines: &tailLines,
	})
	data, err := req.DoRaw(ctx)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}
		return "", NewError("pod-logs", true, err)
	}
	return string(data), nil
}

// Close is a no-op; client-go holds no resources needing release.
func (d *KubeDriver) Close() error { return nil }
